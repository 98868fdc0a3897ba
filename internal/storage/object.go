package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object stores files in an S3-compatible bucket.
type Object struct {
	Client *minio.Client
	Bucket string
}

func NewObject(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Object, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return &Object{Client: client, Bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (o *Object) EnsureBucket(ctx context.Context) error {
	exists, err := o.Client.BucketExists(ctx, o.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return o.Client.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{})
}

func (o *Object) Save(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := o.Client.PutObject(ctx, o.Bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (o *Object) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := o.Client.GetObject(ctx, o.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat forces the existence check.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return obj, nil
}
