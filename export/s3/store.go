// Package s3 stores exports in an S3-compatible bucket (AWS S3, MinIO,
// LocalStack, Cloudflare R2).
//
// Part files and manifests are written with If-None-Match: "*", so an
// existing object is never overwritten and a second commit of the same
// export fails with export.ErrPathExists.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/ringscan/export"
)

// API is the subset of *s3.Client used by Store.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config selects the bucket and an optional key prefix.
type Config struct {
	Bucket string

	// Prefix is prepended to every key; a trailing slash is added if missing.
	Prefix string
}

// Store implements export.Store on S3.
type Store struct {
	client API
	bucket string
	prefix string
}

// New returns a Store using a preconfigured client. See NewClient.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Put uploads the object unless the key already exists. The body is buffered
// so the request carries a content length; part files are bounded by the
// writer's batch size.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	full, err := s.key(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("s3: read body: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return export.ErrPathExists
		}
		return fmt.Errorf("s3: put %s: %w", full, err)
	}
	return nil
}

// Get opens the object. It returns export.ErrNotFound for missing keys.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.key(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, export.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", full, err)
	}
	return out.Body, nil
}

// Exists reports whether the object exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.key(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head %s: %w", full, err)
	}
	return true, nil
}

// List returns every key under prefix relative to the store prefix,
// following continuation tokens.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full, err := s.listPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(full),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", full, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// Delete removes the object. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.key(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete %s: %w", full, err)
	}
	return nil
}

func (s *Store) key(key string) (string, error) {
	if key == "" {
		return "", export.ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean(key), "/")
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", export.ErrInvalidPath
	}
	return s.prefix + cleaned, nil
}

func (s *Store) listPrefix(prefix string) (string, error) {
	if prefix == "" {
		return s.prefix, nil
	}
	cleaned := strings.TrimPrefix(path.Clean(prefix), "/")
	switch {
	case cleaned == ".." || strings.HasPrefix(cleaned, "../"):
		return "", export.ErrInvalidPath
	case cleaned == "." || cleaned == "":
		return s.prefix, nil
	}
	return s.prefix + cleaned, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "412", "ConditionalRequestConflict":
		return true
	}
	return false
}
