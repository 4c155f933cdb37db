package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig is what NewMinioArchive needs to reach a bucket.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// MinioArchive stores evidence documents as JSON objects in one bucket.
type MinioArchive struct {
	Client     *minio.Client
	BucketName string
}

// NewMinioArchive connects to MinIO and makes sure the bucket exists.
func NewMinioArchive(ctx context.Context, cfg MinioConfig) (*MinioArchive, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY_ID, MINIO_SECRET_ACCESS_KEY, and MINIO_BUCKET_NAME must be set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if MinIO bucket '%s' exists: %w", cfg.BucketName, err)
	}
	if !exists {
		log.Printf("MinIO bucket '%s' does not exist. Attempting to create it.", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create MinIO bucket '%s': %w", cfg.BucketName, err)
		}
	}
	log.Printf("MinIO evidence archive ready (bucket %s).", cfg.BucketName)
	return &MinioArchive{Client: client, BucketName: cfg.BucketName}, nil
}

// PutJSON writes v under key.
func (a *MinioArchive) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive object %s: %w", key, err)
	}
	info, err := a.Client.PutObject(ctx, a.BucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to MinIO (bucket: %s, object: %s): %w", a.BucketName, key, err)
	}
	log.Printf("Archived '%s' (%d bytes, ETag %s).", key, info.Size, info.ETag)
	return nil
}

// Get reads the raw bytes stored under key.
func (a *MinioArchive) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := a.Client.GetObject(ctx, a.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, a.BucketName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to read object '%s' data: %w", key, err)
	}
	return data, nil
}
