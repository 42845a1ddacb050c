package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MemoryBlobs is a BlobStore kept in process memory.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[int64][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[int64][]byte)}
}

func (b *MemoryBlobs) Put(_ context.Context, id int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBlobs) Get(_ context.Context, id int64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3 compatible services such as MinIO
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Blobs stores attachment bodies as objects named <prefix><id>.
type S3Blobs struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Blobs(cfg S3Config) *S3Blobs {
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if cfg.AccessKey != "" {
		accessKey, secretKey := cfg.AccessKey, cfg.SecretKey
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Source: "lytecord"}, nil
		})
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "attachments/"
	}
	return &S3Blobs{client: s3.New(opts), bucket: cfg.Bucket, prefix: prefix}
}

func (b *S3Blobs) key(id int64) string {
	return b.prefix + strconv.FormatInt(id, 10)
}

func (b *S3Blobs) Put(ctx context.Context, id int64, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

func (b *S3Blobs) Get(ctx context.Context, id int64) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 download failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 download failed: %w", err)
	}
	return data, nil
}
