package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

const r2PathPrefix = "r2://"

// ObjectAPI is the slice of the S3 client the R2 store needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2ArtifactStore keeps artifacts in a Cloudflare R2 bucket through the S3
// API. Paths have the form r2://<bucket>/<prefix><modifiedName>.
type R2ArtifactStore struct {
	client ObjectAPI
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewR2Client builds an S3 client using static credentials and the account's
// R2 endpoint.
func NewR2Client(accessKey, secretKey, accountID, region string) *s3.Client {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)

	cfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		Region:      region,
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

func NewR2ArtifactStore(client ObjectAPI, bucket, prefix string, log zerolog.Logger) *R2ArtifactStore {
	logger := log.With().Str("component", "r2-artifacts").Logger()
	logger.Info().Str("bucket", bucket).Str("prefix", prefix).Msg("Successfully initialized R2 client")
	return &R2ArtifactStore{client: client, bucket: bucket, prefix: prefix, log: logger}
}

// Store uploads data under a fresh uuid key. PutObject returns only after R2
// acknowledged the write.
func (s *R2ArtifactStore) Store(ctx context.Context, data []byte, ext string) (StorageHandle, error) {
	name := NewModifiedName(ext)
	key := s.prefix + name

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return StorageHandle{}, classifyObjectError(fmt.Errorf("put object %s: %w", key, err))
	}

	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("artifact stored")
	return StorageHandle{ModifiedName: name, Path: r2PathPrefix + s.bucket + "/" + key}, nil
}

// Exists reports whether the object behind path is in the bucket.
func (s *R2ArtifactStore) Exists(ctx context.Context, path string) (bool, error) {
	key, err := s.keyFor(path)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, classifyObjectError(err)
	}
	return true, nil
}

// Delete removes the object. S3 semantics already make deleting a missing
// key a success.
func (s *R2ArtifactStore) Delete(ctx context.Context, path string) error {
	key, err := s.keyFor(path)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return classifyObjectError(fmt.Errorf("delete object %s: %w", key, err))
	}
	s.log.Debug().Str("key", key).Msg("artifact deleted")
	return nil
}

func (s *R2ArtifactStore) keyFor(path string) (string, error) {
	bucketPrefix := r2PathPrefix + s.bucket + "/"
	if !strings.HasPrefix(path, bucketPrefix) {
		return "", fmt.Errorf("%w: path %q is not in bucket %s", ErrPermissionDenied, path, s.bucket)
	}
	return strings.TrimPrefix(path, bucketPrefix), nil
}

func classifyObjectError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		case "EntityTooLarge", "QuotaExceeded":
			return fmt.Errorf("%w: %w", ErrInsufficientSpace, err)
		}
	}
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrIOFailure, err)
}
