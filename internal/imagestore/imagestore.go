package imagestore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/faceswitch/faceswitch/internal/config"
)

// Store holds input, target and output images in object storage. Object
// names double as the image references passed to the face worker and kept
// on ImageAction records.
type Store struct {
	client     *minio.Client
	bucketName string
}

// New creates a new image store client
func New(cfg config.StorageConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Store{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// SaveInput stores a downloaded source photo and returns its reference
func (s *Store) SaveInput(ctx context.Context, userID int64, data []byte) (string, error) {
	objectName := fmt.Sprintf("inputs/%d/%s.png", userID, uuid.New().String())
	return s.save(ctx, objectName, data)
}

// SaveTarget stores an uploaded custom target photo and returns its reference
func (s *Store) SaveTarget(ctx context.Context, userID int64, data []byte) (string, error) {
	objectName := fmt.Sprintf("targets/%d/%s.png", userID, uuid.New().String())
	return s.save(ctx, objectName, data)
}

func (s *Store) save(ctx context.Context, objectName string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/png"},
	)
	if err != nil {
		return "", fmt.Errorf("failed to store object %s: %w", objectName, err)
	}

	return objectName, nil
}

// Remove deletes one stored image
func (s *Store) Remove(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object %s: %w", objectName, err)
	}

	return nil
}

// RemoveAll deletes a batch of stored images, continuing past individual
// failures and returning the first error encountered
func (s *Store) RemoveAll(ctx context.Context, objectNames []string) error {
	var firstErr error
	for _, name := range objectNames {
		if err := s.Remove(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
