package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"chronicle/collab/internal/collab"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps one JSON object per document branch.
type MinioStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &MinioStore{client: client, bucket: cfg.Bucket, now: time.Now}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) SaveSnapshot(ctx context.Context, documentID, branchID string, state collab.DocumentState) error {
	payload, err := encode(documentID, branchID, state, s.now())
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, ObjectKey(documentID, branchID), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"base-version": state.BaseVersionID,
			"checksum":     state.Checksum,
		},
	})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *MinioStore) LoadSnapshot(ctx context.Context, documentID, branchID string) (collab.DocumentState, bool, error) {
	object, err := s.client.GetObject(ctx, s.bucket, ObjectKey(documentID, branchID), minio.GetObjectOptions{})
	if err != nil {
		return collab.DocumentState{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	defer object.Close()

	payload, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return collab.DocumentState{}, false, nil
		}
		return collab.DocumentState{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	state, err := decode(payload)
	if err != nil {
		return collab.DocumentState{}, false, err
	}
	return state, true, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping minio: %w", err)
	}
	return nil
}
