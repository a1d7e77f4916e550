package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"creator-dm-backend/internal/apperrors"
)

// BlobMeta carries the declared MIME type and the uploader-supplied
// content hash alongside stored bytes.
type BlobMeta struct {
	ContentType string
	ContentHash string
	Size        int64
}

// BlobStore is the opaque content-addressable store collaborator. Message
// media goes through here; gating happens in the service before Get.
type BlobStore interface {
	Put(ctx context.Context, data []byte, meta BlobMeta) (string, error)
	Get(ctx context.Context, blobID string) ([]byte, BlobMeta, error)
}

// S3BlobStore stores blobs in an S3 bucket, keyed by generated id.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore builds an S3-backed blob store. Endpoint overrides the
// AWS default for S3-compatible providers.
func NewS3BlobStore(ctx context.Context, region, bucket, accessKey, secretKey, endpoint string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3BlobStore{client: client, bucket: bucket}, nil
}

// Put uploads bytes and returns the new blob id.
func (s *S3BlobStore) Put(ctx context.Context, data []byte, meta BlobMeta) (string, error) {
	blobID := uuid.New().String()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(blobKey(blobID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.ContentType),
		Metadata: map[string]string{
			"content-hash": meta.ContentHash,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put blob: %w", err)
	}
	return blobID, nil
}

// Get downloads a blob by id.
func (s *S3BlobStore) Get(ctx context.Context, blobID string) ([]byte, BlobMeta, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(blobKey(blobID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, BlobMeta{}, apperrors.NotFound("blob not found")
		}
		return nil, BlobMeta{}, fmt.Errorf("failed to get blob: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, BlobMeta{}, fmt.Errorf("failed to read blob body: %w", err)
	}

	meta := BlobMeta{
		ContentType: aws.ToString(out.ContentType),
		ContentHash: out.Metadata["content-hash"],
		Size:        int64(len(data)),
	}
	return data, meta, nil
}

func blobKey(blobID string) string {
	return fmt.Sprintf("messages/%s", blobID)
}
