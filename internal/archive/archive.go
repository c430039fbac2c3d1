// Package archive keeps the original bytes of every uploaded statement in
// Google Cloud Storage so an import can be traced back to its source file.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Archiver stores raw uploads and reads them back by URI.
type Archiver interface {
	Archive(ctx context.Context, userID, filename string, data []byte) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// GCSArchiver writes uploads to one bucket. It assumes Application Default
// Credentials are configured (gcloud auth application-default login).
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewGCSArchiver creates a storage client for bucket. Objects are written
// under prefix.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSArchiver: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArchiver: create storage client: %w", err)
	}
	return &GCSArchiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}, nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// Archive uploads data and returns its gs:// URI.
func (a *GCSArchiver) Archive(ctx context.Context, userID, filename string, data []byte) (string, error) {
	objectName := ObjectName(a.prefix, userID, filename, a.now(), uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "text/csv"
	w.Metadata = map[string]string{
		"user_id":           userID,
		"original_filename": filename,
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize upload: %w", err)
	}
	return "gs://" + a.bucket + "/" + objectName, nil
}

// Fetch downloads the object behind a gs:// URI.
func (a *GCSArchiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// ObjectName lays uploads out as prefix/user/YYYY/MM/id-filename.
func ObjectName(prefix, userID, filename string, at time.Time, id string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload.csv"
	}
	parts := []string{userID, at.UTC().Format("2006/01"), id + "-" + base}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element of uri,
// e.g. "gs://bucket/folder/file.csv" → "file.csv".
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// OriginalFilename returns the name the file was uploaded under, dropping
// the "<uuid>-" prefix ObjectName adds.
func OriginalFilename(uri string) string {
	base := FilenameFromURI(uri)
	const idLen = 36
	if len(base) > idLen+1 && base[idLen] == '-' {
		if _, err := uuid.Parse(base[:idLen]); err == nil {
			return base[idLen+1:]
		}
	}
	return base
}
