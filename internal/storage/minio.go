package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioStore implements ObjectStore using a MinIO (or any S3-compatible) backend.
// The bucket is kept private; retrieval always goes through presigned URLs.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a MinIO client and ensures the bucket exists. Any
// misconfiguration is surfaced here, at construction time, so callers never
// have to branch on client availability.
func NewMinioStore(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx := context.Background()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		log.Info().Str("bucket", bucket).Msg("storage: created bucket")
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put streams reader to the store under key.
func (s *MinioStore) Put(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return ObjectInfo{}, &Error{Op: "put", Key: key, Err: err}
	}
	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  opts.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Get opens the object at key for reading.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &Error{Op: "get", Key: key, Err: err}
	}
	return obj, nil
}

// Stat checks whether the object exists and returns its metadata.
func (s *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, &Error{Op: "stat", Key: key, Err: err}
	}
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Delete removes the object at key from the bucket.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Copy duplicates an object within the bucket.
func (s *MinioStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		return &Error{Op: "copy", Key: srcKey, Err: err}
	}
	return nil
}

// List returns up to max objects under the given prefix.
func (s *MinioStore) List(ctx context.Context, prefix string, max int) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &Error{Op: "list", Key: prefix, Err: obj.Err}
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// PresignGet returns a URL granting read access to exactly one object for
// exactly the given duration. Expiry is enforced by the store's signature
// validation; there is no server-side revocation.
func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", &Error{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

// URL constructs the direct endpoint URL for a key. Not dereferenceable
// without signing since the bucket is private.
func (s *MinioStore) URL(key string) string {
	return s.client.EndpointURL().String() + "/" + s.bucket + "/" + key
}

// Bucket returns the container name.
func (s *MinioStore) Bucket() string { return s.bucket }
