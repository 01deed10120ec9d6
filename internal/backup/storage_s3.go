package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3StorageProvider stores archives in an S3 bucket under a fixed prefix.
type S3StorageProvider struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3StorageProvider creates an S3 provider. Static credentials are used
// when configured; otherwise the default AWS credential chain applies.
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("S3 storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: "backups/",
	}, nil
}

// Store uploads the archive and metadata under the run's key prefix.
func (p *S3StorageProvider) Store(ctx context.Context, meta *RunMetadata, archivePath string) (string, error) {
	if meta == nil {
		return "", NewValidationError("run metadata is required", nil)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	runKey := p.runKey(meta.ID)
	location := fmt.Sprintf("s3://%s/%s", p.bucket, runKey)

	if archivePath != "" {
		f, err := os.Open(archivePath)
		if err != nil {
			return "", NewStorageError("failed to open archive for upload", err)
		}
		defer f.Close()

		_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(runKey + "/" + meta.ArchiveFile),
			Body:        f,
			ContentType: aws.String("application/octet-stream"),
			Metadata: map[string]*string{
				"run-id":      aws.String(meta.ID),
				"org-id":      aws.String(meta.OrgID),
				"compression": aws.String(string(meta.CompressionType)),
				"checksum":    aws.String(meta.Checksum),
			},
		})
		if err != nil {
			return "", NewStorageError("failed to upload archive to S3", err)
		}
	}

	meta.StorageLocation = location
	data, err := meta.ToJSON()
	if err != nil {
		return "", err
	}
	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(runKey + "/" + metadataFileName),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", NewStorageError("failed to upload run metadata to S3", err)
	}
	return location, nil
}

// Retrieve downloads a run's archive to destPath and verifies its checksum.
func (p *S3StorageProvider) Retrieve(ctx context.Context, runID, destPath string) (*RunMetadata, error) {
	meta, err := p.GetMetadata(ctx, runID)
	if err != nil {
		return nil, err
	}
	if meta.ArchiveFile == "" {
		return nil, NewNotFoundError(fmt.Sprintf("run %s has no archive", runID), nil)
	}

	result, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.runKey(runID) + "/" + meta.ArchiveFile),
	})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download archive for run %s", runID), err)
	}
	defer result.Body.Close()

	if err := writeStream(destPath, result.Body); err != nil {
		return nil, err
	}
	if meta.Checksum != "" {
		if err := VerifyChecksum(destPath, meta.Checksum); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Delete removes every object under the run's key prefix.
func (p *S3StorageProvider) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return NewValidationError("run ID cannot be empty", nil)
	}

	listResult, err := p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.runKey(runID) + "/"),
	})
	if err != nil {
		return NewStorageError("failed to list run objects", err)
	}
	if len(listResult.Contents) == 0 {
		return NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
	}

	var identifiers []*s3.ObjectIdentifier
	for _, obj := range listResult.Contents {
		identifiers = append(identifiers, &s3.ObjectIdentifier{Key: obj.Key})
	}
	_, err = p.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &s3.Delete{Objects: identifiers},
	})
	if err != nil {
		return NewStorageError("failed to delete run objects from S3", err)
	}
	return nil
}

// List pages through metadata objects and collects run metadata.
func (p *S3StorageProvider) List(ctx context.Context, filter StorageFilter) ([]*RunMetadata, error) {
	var runs []*RunMetadata

	prefix := p.prefix
	if filter.Prefix != "" {
		prefix += sanitizeRunID(filter.Prefix)
	}

	err := p.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if !strings.HasSuffix(*obj.Key, "/"+metadataFileName) {
				continue
			}
			runID := p.runIDFromKey(*obj.Key)
			if runID == "" {
				continue
			}
			meta, err := p.GetMetadata(ctx, runID)
			if err != nil {
				continue
			}
			runs = append(runs, meta)
			if filter.MaxItems > 0 && len(runs) >= filter.MaxItems {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list runs from S3", err)
	}
	return runs, nil
}

// GetMetadata downloads one run's metadata object.
func (p *S3StorageProvider) GetMetadata(ctx context.Context, runID string) (*RunMetadata, error) {
	if runID == "" {
		return nil, NewValidationError("run ID cannot be empty", nil)
	}

	result, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.runKey(runID) + "/" + metadataFileName),
	})
	if err != nil {
		return nil, NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	defer result.Body.Close()

	return decodeMetadata(result.Body)
}

// HealthCheck verifies bucket access and list permission.
func (p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	}); err != nil {
		return NewStorageError("S3 health check failed: bucket not accessible", err)
	}
	if _, err := p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(p.prefix),
		MaxKeys: aws.Int64(1),
	}); err != nil {
		return NewStorageError("S3 health check failed: cannot list objects", err)
	}
	return nil
}

func (p *S3StorageProvider) runKey(runID string) string {
	return p.prefix + sanitizeRunID(runID)
}

func (p *S3StorageProvider) runIDFromKey(key string) string {
	if !strings.HasPrefix(key, p.prefix) {
		return ""
	}
	trimmed := strings.TrimPrefix(key, p.prefix)
	if !strings.HasSuffix(trimmed, "/"+metadataFileName) {
		return ""
	}
	return strings.TrimSuffix(trimmed, "/"+metadataFileName)
}

func decodeMetadata(r io.Reader) (*RunMetadata, error) {
	var meta RunMetadata
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return nil, NewStorageError("failed to parse run metadata", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func writeStream(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return NewStorageError("failed to create file "+path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return NewStorageError("failed to write file "+path, err)
	}
	if err := out.Close(); err != nil {
		return NewStorageError("failed to close file "+path, err)
	}
	return nil
}
