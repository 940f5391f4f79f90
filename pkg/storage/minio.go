package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"strings"
)

var ErrEmptyPrefix = errors.New("refusing to remove objects without a prefix")

// MinioStore keeps recording chunks in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("bucket", s.bucket).Msg("created chunk bucket")
	return nil
}

func (s *MinioStore) PutChunk(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("object", objectName).Msg("failed to upload chunk object")
		return err
	}
	return nil
}

// RemovePrefix deletes every object under prefix and returns how many were removed.
func (s *MinioStore) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	if err := validatePrefix(prefix); err != nil {
		return 0, err
	}

	listed := 0
	objects := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objects)
		for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			listed++
			select {
			case objects <- object:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for removeErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", removeErr.ObjectName, removeErr.Err))
	}
	// RemoveObjects drains objects before its result channel closes.
	if listErr != nil {
		errs = append(errs, listErr)
	}

	removed := listed - len(errs)
	if removed < 0 {
		removed = 0
	}
	zerolog.Ctx(ctx).Info().Str("prefix", prefix).Int("removed", removed).Msg("removed chunk objects")
	return removed, errors.Join(errs...)
}

func validatePrefix(prefix string) error {
	trimmed := strings.Trim(prefix, "/ ")
	if trimmed == "" {
		return ErrEmptyPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("prefix %q must end with a slash", prefix)
	}
	return nil
}
