package bulk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apperrors "forcebackup/internal/errors"
)

// BinaryPathColumn is the column appended to an object's CSV after binary
// download, holding the path of each record's payload file relative to the
// backup directory, e.g. "Attachment_files/00P..._invoice.pdf".
const BinaryPathColumn = "BLOB_FILE_PATH"

// BinaryResult summarizes a binary download pass. Individual failures never
// abort the pass.
type BinaryResult struct {
	Downloaded int
	Skipped    int
	Failed     int
	FailedIDs  []string
}

// binaryStrategy describes how one object type exposes its binary content:
// which fields name the file and where the payload lives.
type binaryStrategy struct {
	// metadataFields are fetched per record to build the file name.
	metadataFields []string
	// contentSegment is the REST sub-resource holding the payload. Empty
	// means the object's described base64 field is used.
	contentSegment string
	// fileName builds the on-disk name from the record metadata.
	fileName func(id string, record map[string]interface{}) string
}

var binaryStrategies = map[string]binaryStrategy{
	"Attachment": {
		metadataFields: []string{"Name", "ContentType"},
		contentSegment: "Body",
		fileName: func(id string, record map[string]interface{}) string {
			return namedFile(id, record, "Name", "ContentType")
		},
	},
	"Document": {
		metadataFields: []string{"Name", "Type"},
		contentSegment: "Body",
		fileName: func(id string, record map[string]interface{}) string {
			name := stringField(record, "Name")
			if ext := stringField(record, "Type"); ext != "" && !strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(ext)) {
				name += "." + ext
			}
			return id + "_" + name
		},
	},
	"ContentVersion": {
		metadataFields: []string{"Title", "FileExtension"},
		contentSegment: "VersionData",
		fileName: func(id string, record map[string]interface{}) string {
			name := stringField(record, "Title")
			if ext := stringField(record, "FileExtension"); ext != "" && !strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(ext)) {
				name += "." + ext
			}
			return id + "_" + name
		},
	},
	"StaticResource": {
		metadataFields: []string{"Name", "ContentType"},
		contentSegment: "Body",
		fileName: func(id string, record map[string]interface{}) string {
			return namedFile(id, record, "Name", "ContentType")
		},
	},
}

// genericBinaryStrategy serves objects without a dedicated entry. Naming
// falls back to the record ID plus the MIME extension when available.
func genericBinaryStrategy(binaryField string) binaryStrategy {
	return binaryStrategy{
		metadataFields: []string{"Name", "ContentType"},
		contentSegment: binaryField,
		fileName: func(id string, record map[string]interface{}) string {
			return namedFile(id, record, "Name", "ContentType")
		},
	}
}

func namedFile(id string, record map[string]interface{}, nameField, mimeField string) string {
	name := stringField(record, nameField)
	if name == "" {
		name = id
	}
	if ext := extensionForMIME(stringField(record, mimeField)); ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return id + "_" + name
}

func stringField(record map[string]interface{}, field string) string {
	if record == nil {
		return ""
	}
	value, _ := record[field].(string)
	return value
}

var mimeExtensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/zip":    ".zip",
	"application/json":   ".json",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/svg+xml": ".svg",
	"text/plain":    ".txt",
	"text/csv":      ".csv",
	"text/html":     ".html",
	"text/xml":      ".xml",
}

func extensionForMIME(mimeType string) string {
	return mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// maxFileNameLength caps generated file names; long Salesforce titles are
// truncated ahead of the extension.
const maxFileNameLength = 100

// sanitizeFileName makes a record-derived name safe for the local
// filesystem.
func sanitizeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if len(name) > maxFileNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:maxFileNameLength-len(ext)] + ext
	}
	if name == "" {
		name = "unnamed"
	}
	return name
}

// DownloadBinaries fetches the binary payload of every record listed in an
// object's already-downloaded CSV into dir, then rewrites the CSV once to
// append the BLOB_FILE_PATH column. Files that already exist with content
// are skipped, which makes re-runs incremental. Per-record failures are
// counted and skipped.
func (c *Client) DownloadBinaries(ctx context.Context, object, csvPath, dir string) (*BinaryResult, error) {
	md, err := c.inspector.Describe(ctx, object)
	if err != nil {
		return nil, err
	}
	if !md.HasBinaryField() {
		return &BinaryResult{}, nil
	}

	strategy, ok := binaryStrategies[object]
	if !ok {
		strategy = genericBinaryStrategy(md.BinaryField)
	}

	ids, err := readColumn(csvPath, "Id")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &BinaryResult{}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to create binary output directory "+dir, err)
	}

	result := &BinaryResult{}
	paths := make(map[string]string, len(ids))

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return result, apperrors.NewAppError(apperrors.ErrorTypeInterruption,
				"binary download cancelled", ctx.Err())
		default:
		}

		path, skipped, err := c.downloadOneBinary(ctx, object, id, dir, strategy)
		if err != nil {
			if apperrors.IsFatal(err) {
				return result, err
			}
			c.logger.WithFields(map[string]interface{}{
				"object": object,
				"id":     id,
				"error":  err.Error(),
			}).Warn("Binary download failed, skipping record")
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		if skipped {
			result.Skipped++
		} else {
			result.Downloaded++
		}
		// keep the CSV cell relative to the backup directory, which holds
		// both the CSV and the per-object binary directory
		paths[id] = filepath.ToSlash(filepath.Join(filepath.Base(dir), filepath.Base(path)))
	}

	if err := appendColumn(csvPath, "Id", BinaryPathColumn, paths); err != nil {
		return result, err
	}

	c.logger.WithFields(map[string]interface{}{
		"object":     object,
		"downloaded": result.Downloaded,
		"skipped":    result.Skipped,
		"failed":     result.Failed,
	}).Info("Binary download completed")
	return result, nil
}

// downloadOneBinary fetches a single record's payload. An existing
// non-empty file at the target path makes the download a no-op.
func (c *Client) downloadOneBinary(ctx context.Context, object, id, dir string, strategy binaryStrategy) (path string, skipped bool, err error) {
	record, err := c.api.GetRecord(ctx, object, id, strategy.metadataFields)
	if err != nil {
		return "", false, err
	}

	fileName := sanitizeFileName(strategy.fileName(id, record))
	path = filepath.Join(dir, fileName)

	if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
		return path, true, nil
	}

	body, _, err := c.api.Stream(ctx, c.api.RestPath("sobjects", object, id, strategy.contentSegment))
	if err != nil {
		return "", false, err
	}
	defer body.Close()

	out, err := os.Create(path)
	if err != nil {
		return "", false, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to create binary file "+path, err)
	}

	buf := make([]byte, copyBufferSize)
	_, copyErr := io.CopyBuffer(out, body, buf)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(path)
		return "", false, apperrors.NewAppError(apperrors.ErrorTypeNetwork,
			fmt.Sprintf("failed to stream binary for %s %s", object, id), copyErr)
	}
	if closeErr != nil {
		return "", false, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to close binary file "+path, closeErr)
	}
	return path, false, nil
}
