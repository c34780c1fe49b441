package miniofs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options to init Filer
type Options struct {
	URL    string
	User   string
	Key    string
	Secure bool
	Bucket string
}

// Filer saves, loads and deletes files in minio/s3 compatible storage
type Filer struct {
	client *minio.Client
	bucket string
}

// NewFiler creates Filer instance
func NewFiler(ctx context.Context, opts Options) (*Filer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("no filer URL")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("no filer bucket")
	}
	client, err := minio.New(opts.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.User, opts.Key, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("can't init minio client: %w", err)
	}
	res := &Filer{client: client, bucket: opts.Bucket}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("can't check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("no bucket %s", opts.Bucket)
	}
	goapp.Log.Info().Str("url", opts.URL).Str("bucket", opts.Bucket).Msg("connected to file storage")
	return res, nil
}

// SaveFile saves the stream under name
func (f *Filer) SaveFile(ctx context.Context, name string, r io.Reader) error {
	_, err := f.client.PutObject(ctx, f.bucket, name, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("can't save %s: %w", name, err)
	}
	return nil
}

// LoadFile returns a reader for the stored object
func (f *Filer) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	obj, err := f.client.GetObject(ctx, f.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("can't load %s: %w", name, err)
	}
	// GetObject is lazy, make sure the object exists
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, err
	}
	return &fileWrap{Object: obj, info: info}, nil
}

type fileWrap struct {
	*minio.Object
	info minio.ObjectInfo
}

// Stat exposes the object as fs.FileInfo for http file serving
func (f *fileWrap) Stat() (fs.FileInfo, error) {
	return objectInfo{info: f.info}, nil
}

type objectInfo struct {
	info minio.ObjectInfo
}

func (i objectInfo) Name() string       { return path.Base(i.info.Key) }
func (i objectInfo) Size() int64        { return i.info.Size }
func (i objectInfo) Mode() fs.FileMode  { return 0 }
func (i objectInfo) ModTime() time.Time { return i.info.LastModified }
func (i objectInfo) IsDir() bool        { return false }
func (i objectInfo) Sys() any           { return nil }

// Delete drops the object, no error if it does not exist
func (f *Filer) Delete(ctx context.Context, name string) error {
	if err := f.client.RemoveObject(ctx, f.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("can't delete %s: %w", name, err)
	}
	return nil
}
