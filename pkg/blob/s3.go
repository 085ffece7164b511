package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

// headParallelism bounds the parallel HeadObject fan-out used to resolve
// custom metadata during listings (S3 listings do not carry it).
const headParallelism = 10

// s3API captures the subset of the S3 client used by S3Store. It is
// satisfied by *s3.Client so tests can substitute a mock.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is a Store backed by an S3-compatible bucket (AWS S3, Cloudflare R2,
// MinIO). All keys are stored under an optional key prefix.
type S3Store struct {
	api    s3API
	bucket string
	prefix string
}

// NewS3Store wraps an existing S3 client.
func NewS3Store(api s3API, bucket, prefix string) *S3Store {
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return &S3Store{api: api, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromEnv builds a store using the default AWS credential chain.
// endpoint may be empty (AWS) or point at an S3-compatible service.
func NewS3StoreFromEnv(ctx context.Context, bucket, prefix, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Store(client, bucket, prefix), nil
}

func (s *S3Store) fullKey(key string) string {
	return s.prefix + key
}

func (s *S3Store) trimKey(key string) string {
	if len(key) >= len(s.prefix) {
		return key[len(s.prefix):]
	}
	return key
}

// Put writes body under key with the given content type and metadata.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string, meta Metadata) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get fetches the object under key.
func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	obj := &Object{
		ObjectInfo: ObjectInfo{
			Key:         key,
			Size:        int64(len(body)),
			ContentType: aws.ToString(out.ContentType),
			Metadata:    out.Metadata,
		},
		Body: body,
	}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	return obj, nil
}

// Head returns object info without fetching the body.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}

	info := &ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// List returns a cursor-paged listing under a prefix. When WithMetadata is
// set, custom metadata is resolved with a bounded parallel Head fan-out
// because ListObjectsV2 responses do not include it.
func (s *S3Store) List(ctx context.Context, opts ListOptions) (*Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// The cursor is the last key of the previous page; S3's StartAfter
	// resumes strictly after it, which matches the MemoryStore semantics.
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.fullKey(opts.Prefix)),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if opts.Cursor != "" {
		in.StartAfter = aws.String(s.fullKey(opts.Cursor))
	}

	out, err := s.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", opts.Prefix, err)
	}

	page := &Page{
		Objects:   make([]ObjectInfo, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	for i, obj := range out.Contents {
		info := ObjectInfo{
			Key:  s.trimKey(aws.ToString(obj.Key)),
			Size: aws.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		page.Objects[i] = info
	}
	if page.Truncated && len(page.Objects) > 0 {
		page.Cursor = page.Objects[len(page.Objects)-1].Key
	}

	if opts.WithMetadata && len(page.Objects) > 0 {
		if err := s.resolveMetadata(ctx, page.Objects); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (s *S3Store) resolveMetadata(ctx context.Context, objects []ObjectInfo) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headParallelism)
	for i := range objects {
		g.Go(func() error {
			info, err := s.Head(gctx, objects[i].Key)
			if err != nil {
				// Objects can disappear between list and head; skip them.
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			objects[i].ContentType = info.ContentType
			objects[i].Metadata = info.Metadata
			return nil
		})
	}
	return g.Wait()
}

// Delete removes the object under key. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// isNotFound reports whether err is an S3 missing-key error. HeadObject
// surfaces "NotFound" while GetObject surfaces "NoSuchKey".
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
