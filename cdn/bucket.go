package cdn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver

	"github.com/aluiziolira/go-shop-tracker/errs"
)

// BucketMirror copies images into a blob bucket served from publicURL.
type BucketMirror struct {
	bucket    *blob.Bucket
	bucketURL string
	publicURL string
	client    *retryablehttp.Client
}

// OpenBucketMirror opens bucketURL (file://, s3:// or gs://).
func OpenBucketMirror(ctx context.Context, bucketURL, publicURL string, client *retryablehttp.Client) (*BucketMirror, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BucketMirror{
		bucket:    bucket,
		bucketURL: bucketURL,
		publicURL: strings.TrimRight(publicURL, "/"),
		client:    client,
	}, nil
}

// ObjectName returns the bucket key used for an image.
func ObjectName(key, ext string) string {
	sum := sha256.Sum256([]byte(key))
	return "images/" + hex.EncodeToString(sum[:16]) + "." + ext
}

// Mirror downloads sourceURL and writes it under images/.
func (m *BucketMirror) Mirror(ctx context.Context, key, sourceURL string) (string, error) {
	ext, err := Extension(sourceURL)
	if err != nil {
		return "", err
	}
	name := ObjectName(key, ext)
	public := m.publicURL + "/" + name

	exists, err := m.bucket.Exists(ctx, name)
	if err != nil {
		return "", &errs.PersistenceError{Op: "stat object", Path: m.bucketURL + "/" + name, Err: err}
	}
	if exists {
		return public, nil
	}

	data, err := download(ctx, m.client, sourceURL)
	if err != nil {
		return "", err
	}

	w, err := m.bucket.NewWriter(ctx, name, &blob.WriterOptions{ContentType: contentType(ext)})
	if err != nil {
		return "", &errs.PersistenceError{Op: "create writer", Path: m.bucketURL + "/" + name, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", &errs.PersistenceError{Op: "write object", Path: m.bucketURL + "/" + name, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &errs.PersistenceError{Op: "close writer", Path: m.bucketURL + "/" + name, Err: err}
	}
	return public, nil
}

// Close releases the bucket.
func (m *BucketMirror) Close() error {
	return m.bucket.Close()
}
