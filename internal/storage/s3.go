package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3API is the subset of *s3.Client the backend needs
type s3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 is a backend for s3://bucket/prefix/ locations. Directories are key prefixes;
// Mkdir writes an empty "prefix/" marker object.
type S3 struct {
	client s3API
}

// NewS3 builds a client from static credentials when given, falling back to the default AWS chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client), nil
}

func newS3WithClient(client s3API) *S3 {
	return &S3{client: client}
}

// IsS3Path reports whether p is an s3:// location.
func IsS3Path(p string) bool {
	return strings.HasPrefix(p, s3Scheme)
}

func parseS3(p string) (bucket, key string, err error) {
	if !IsS3Path(p) {
		return "", "", fmt.Errorf("%w: %q is not an s3 location", ErrInvalidAddress, p)
	}
	rest := strings.TrimPrefix(p, s3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidAddress, p)
	}
	return bucket, key, nil
}

func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

func (s *S3) Name() string {
	return "s3"
}

func (s *S3) List(ctx context.Context, dir string) ([]string, error) {
	bucket, key, err := parseS3(dir)
	if err != nil {
		return nil, newError("list", dir, err)
	}
	prefix := dirPrefix(key)

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newError("list", dir, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue // directory marker
			}
			names = append(names, name)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (s *S3) head(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	bucket, key, err := parseS3(p)
	if err != nil {
		return nil, newError("stat", p, err)
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newError("stat", p, err)
	}
	return out, nil
}

func (s *S3) IsFile(ctx context.Context, p string) (bool, error) {
	if strings.HasSuffix(p, "/") {
		return false, nil
	}
	if _, err := s.head(ctx, p); err != nil {
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3) IsDir(ctx context.Context, p string) (bool, error) {
	bucket, key, err := parseS3(p)
	if err != nil {
		return false, newError("stat", p, err)
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		err = newError("stat", p, err)
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	// the bucket root always exists once the bucket does
	return key == "" || aws.ToInt32(out.KeyCount) > 0 || len(out.Contents) > 0, nil
}

func (s *S3) ModTime(ctx context.Context, p string) (time.Time, error) {
	out, err := s.head(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(out.LastModified), nil
}

func (s *S3) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	bucket, key, err := parseS3(p)
	if err != nil {
		return nil, newError("open", p, err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newError("open", p, err)
	}
	return out.Body, nil
}

// s3Writer buffers the object and uploads it on Close
type s3Writer struct {
	ctx    context.Context
	s      *S3
	bucket string
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed object writer")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.s.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	return newError("write", s3Scheme+w.bucket+"/"+w.key, err)
}

func (s *S3) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	bucket, key, err := parseS3(p)
	if err != nil {
		return nil, newError("create", p, err)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, newError("create", p, fmt.Errorf("%w: %q is a directory", ErrInvalidAddress, p))
	}
	return &s3Writer{ctx: ctx, s: s, bucket: bucket, key: key}, nil
}

func (s *S3) Remove(ctx context.Context, p string) error {
	bucket, key, err := parseS3(p)
	if err != nil {
		return newError("remove", p, err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return newError("remove", p, err)
}

func (s *S3) Mkdir(ctx context.Context, p string) error {
	bucket, key, err := parseS3(p)
	if err != nil {
		return newError("mkdir", p, err)
	}
	if key == "" {
		return nil
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(dirPrefix(key)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return newError("mkdir", p, err)
}

func (s *S3) Close() error {
	return nil
}
