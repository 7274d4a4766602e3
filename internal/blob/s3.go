package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"remote-exec-mcp/internal/config"
)

// S3Store stages transfer objects in an S3 bucket. Presigned URLs give the
// external caller short-lived access without sharing credentials.
type S3Store struct {
	svc    *s3.S3
	bucket string
	prefix string
}

// NewS3Store builds a store from the intermediary configuration.
// Credentials come from the standard AWS environment / shared config chain.
func NewS3Store(cfg config.Intermediary) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		// Custom endpoint allows S3-compatible backends (MinIO and friends).
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntermediary, err)
	}
	return &S3Store{
		svc:    s3.New(sess),
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

// PresignPut returns a URL for a single out-of-band PUT of the object.
func (s *S3Store) PresignPut(key string, ttl time.Duration) (string, error) {
	req, _ := s.svc.PutObjectRequest(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("%w: presign put: %v", ErrIntermediary, err)
	}
	return url, nil
}

// PresignGet returns a URL for retrieving the staged object.
func (s *S3Store) PresignGet(key string, ttl time.Duration) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("%w: presign get: %v", ErrIntermediary, err)
	}
	return url, nil
}

// Exists reports whether the object was pushed.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head object: %v", ErrIntermediary, err)
	}
	return true, nil
}

// Fetch reads the staged object's bytes.
func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: get object: %v", ErrIntermediary, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", ErrIntermediary, err)
	}
	return data, nil
}

// Put stages bytes under key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: put object: %v", ErrIntermediary, err)
	}
	return nil
}

// Delete removes the staged object.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete object: %v", ErrIntermediary, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
