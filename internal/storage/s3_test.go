package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data    []byte
	modTime time.Time
}

// fakeS3 is an in-memory bucket store implementing s3API
type fakeS3 struct {
	buckets map[string]map[string]fakeObject
	now     time.Time
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{
		buckets: make(map[string]map[string]fakeObject),
		now:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]fakeObject)
	}
	return f
}

func (f *fakeS3) bucket(name *string) (map[string]fakeObject, error) {
	b, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	return b, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		obj := b[k]
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: aws.Time(obj.modTime)})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents) + len(out.CommonPrefixes)))
	out.IsTruncated = aws.Bool(false)
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(obj.modTime), ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b[aws.ToString(in.Key)] = fakeObject{data: data, modTime: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(b, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3WriteListRead(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("drop")
	b := newS3WithClient(fake)

	require.NoError(t, WriteFile(ctx, b, "s3://drop/in/a.txt", []byte("hello")))
	require.NoError(t, WriteFile(ctx, b, "s3://drop/in/sub/x.txt", []byte("nested")))
	require.NoError(t, WriteFile(ctx, b, "s3://drop/top.txt", []byte("top")))

	names, err := b.List(ctx, "s3://drop/in/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names)

	ok, err := b.IsFile(ctx, "s3://drop/in/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.IsFile(ctx, "s3://drop/in/sub")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := ReadFile(ctx, b, "s3://drop/in/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	mtime, err := b.ModTime(ctx, "s3://drop/in/a.txt")
	require.NoError(t, err)
	assert.True(t, fake.now.Equal(mtime))
}

func TestS3DirectoriesAndRemove(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("drop")
	b := newS3WithClient(fake)

	ok, err := b.IsDir(ctx, "s3://drop/")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.IsDir(ctx, "s3://drop/archive/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Mkdir(ctx, "s3://drop/archive/"))
	ok, err = b.IsDir(ctx, "s3://drop/archive/")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := b.List(ctx, "s3://drop/archive/")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, WriteFile(ctx, b, "s3://drop/archive/old.txt", []byte("x")))
	require.NoError(t, b.Remove(ctx, "s3://drop/archive/old.txt"))
	ok, err = b.IsFile(ctx, "s3://drop/archive/old.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.IsDir(ctx, "s3://missing/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Errors(t *testing.T) {
	ctx := context.Background()
	b := newS3WithClient(newFakeS3("drop"))

	_, err := ReadFile(ctx, b, "s3://drop/nope.txt")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = b.OpenWrite(ctx, "s3://drop/dir/")
	assert.Equal(t, KindInvalidAddress, KindOf(err))

	_, err = b.List(ctx, "/not/s3")
	assert.Equal(t, KindInvalidAddress, KindOf(err))
}
