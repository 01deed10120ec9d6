package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// azureBlockSize is the upload block size for archive blobs.
const azureBlockSize = 4 * 1024 * 1024

// AzureStorageProvider stores archives in an Azure Blob Storage container.
type AzureStorageProvider struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates an Azure provider with shared-key
// credentials.
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("Azure storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
		prefix:        "backups/",
	}, nil
}

// Store uploads the archive and metadata under the run's blob prefix.
func (p *AzureStorageProvider) Store(ctx context.Context, meta *RunMetadata, archivePath string) (string, error) {
	if meta == nil {
		return "", NewValidationError("run metadata is required", nil)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	runName := p.runBlobName(meta.ID)
	location := fmt.Sprintf("azure://%s/%s", p.containerName, runName)

	if archivePath != "" {
		f, err := os.Open(archivePath)
		if err != nil {
			return "", NewStorageError("failed to open archive for upload", err)
		}
		defer f.Close()

		blobURL := containerURL.NewBlockBlobURL(runName + "/" + meta.ArchiveFile)
		_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
			BlockSize:   azureBlockSize,
			Parallelism: 16,
			Metadata: azblob.Metadata{
				"run_id":      meta.ID,
				"org_id":      meta.OrgID,
				"compression": string(meta.CompressionType),
				"checksum":    meta.Checksum,
			},
			BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
		})
		if err != nil {
			return "", NewStorageError("failed to upload archive to Azure", err)
		}
	}

	meta.StorageLocation = location
	data, err := meta.ToJSON()
	if err != nil {
		return "", err
	}
	metadataURL := containerURL.NewBlockBlobURL(runName + "/" + metadataFileName)
	_, err = azblob.UploadBufferToBlockBlob(ctx, data, metadataURL, azblob.UploadToBlockBlobOptions{
		BlockSize:       azureBlockSize,
		Parallelism:     1,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/json"},
	})
	if err != nil {
		return "", NewStorageError("failed to upload run metadata to Azure", err)
	}
	return location, nil
}

// Retrieve downloads a run's archive to destPath and verifies its checksum.
func (p *AzureStorageProvider) Retrieve(ctx context.Context, runID, destPath string) (*RunMetadata, error) {
	meta, err := p.GetMetadata(ctx, runID)
	if err != nil {
		return nil, err
	}
	if meta.ArchiveFile == "" {
		return nil, NewNotFoundError(fmt.Sprintf("run %s has no archive", runID), nil)
	}

	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	blobURL := containerURL.NewBlockBlobURL(p.runBlobName(runID) + "/" + meta.ArchiveFile)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download archive for run %s", runID), err)
	}
	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	if err := writeStream(destPath, body); err != nil {
		return nil, err
	}
	if meta.Checksum != "" {
		if err := VerifyChecksum(destPath, meta.Checksum); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Delete removes every blob under the run's prefix.
func (p *AzureStorageProvider) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return NewValidationError("run ID cannot be empty", nil)
	}

	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	var names []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: p.runBlobName(runID) + "/",
		})
		if err != nil {
			return NewStorageError("failed to list run blobs", err)
		}
		for _, blob := range listResponse.Segment.BlobItems {
			names = append(names, blob.Name)
		}
		marker = listResponse.NextMarker
	}
	if len(names) == 0 {
		return NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
	}

	for _, name := range names {
		blobURL := containerURL.NewBlockBlobURL(name)
		if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
			return NewStorageError("failed to delete blob "+name, err)
		}
	}
	return nil
}

// List pages through metadata blobs and collects run metadata.
func (p *AzureStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*RunMetadata, error) {
	var runs []*RunMetadata

	prefix := p.prefix
	if filter.Prefix != "" {
		prefix += sanitizeRunID(filter.Prefix)
	}

	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list runs from Azure", err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			if !strings.HasSuffix(blob.Name, "/"+metadataFileName) {
				continue
			}
			runID := p.runIDFromBlobName(blob.Name)
			if runID == "" {
				continue
			}
			meta, err := p.GetMetadata(ctx, runID)
			if err != nil {
				continue
			}
			runs = append(runs, meta)
			if filter.MaxItems > 0 && len(runs) >= filter.MaxItems {
				return runs, nil
			}
		}
		marker = listResponse.NextMarker
	}
	return runs, nil
}

// GetMetadata downloads one run's metadata blob.
func (p *AzureStorageProvider) GetMetadata(ctx context.Context, runID string) (*RunMetadata, error) {
	if runID == "" {
		return nil, NewValidationError("run ID cannot be empty", nil)
	}

	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	blobURL := containerURL.NewBlockBlobURL(p.runBlobName(runID) + "/" + metadataFileName)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	return decodeMetadata(body)
}

// HealthCheck verifies container access and list permission.
func (p *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	if _, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError("Azure health check failed: container not accessible", err)
	}
	if _, err := containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		Prefix:     p.prefix,
		MaxResults: 1,
	}); err != nil {
		return NewStorageError("Azure health check failed: cannot list blobs", err)
	}
	return nil
}

func (p *AzureStorageProvider) runBlobName(runID string) string {
	return p.prefix + sanitizeRunID(runID)
}

func (p *AzureStorageProvider) runIDFromBlobName(name string) string {
	if !strings.HasPrefix(name, p.prefix) {
		return ""
	}
	trimmed := strings.TrimPrefix(name, p.prefix)
	if !strings.HasSuffix(trimmed, "/"+metadataFileName) {
		return ""
	}
	return strings.TrimSuffix(trimmed, "/"+metadataFileName)
}
