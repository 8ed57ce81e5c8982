package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	listErr error
	deletes int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func notFound() error { return &smithy.GenericAPIError{Code: "NotFound", Message: "not found"} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(io.LimitReader(in.Body, aws.ToInt64(in.ContentLength)))
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func newS3(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	f := newFakeS3()
	return NewS3Store(f, "bucket", logging.Discard()), f
}

func TestS3Store_PutKnownSize(t *testing.T) {
	s, f := newS3(t)
	n, err := s.Put(context.Background(), "final/x.bin", strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, []byte("abc"), f.objects["final/x.bin"])
}

func TestS3Store_PutUnknownSizeSpools(t *testing.T) {
	s, f := newS3(t)
	n, err := s.Put(context.Background(), "staging/s/0", io.MultiReader(strings.NewReader("ab"), strings.NewReader("cd")), UnknownSize)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, []byte("abcd"), f.objects["staging/s/0"])
}

func TestS3Store_PutShortReaderFails(t *testing.T) {
	s, f := newS3(t)
	_, err := s.Put(context.Background(), "k", strings.NewReader("ab"), 5)
	require.Error(t, err)
	_, ok := f.objects["k"]
	assert.False(t, ok, "short object must be removed")
}

func TestS3Store_PutError(t *testing.T) {
	s, f := newS3(t)
	f.putErr = errors.New("boom")
	_, err := s.Put(context.Background(), "k", strings.NewReader("ab"), 2)
	assert.ErrorContains(t, err, "boom")
}

func TestS3Store_OpenStatNotFound(t *testing.T) {
	s, _ := newS3(t)
	ctx := context.Background()

	_, err := s.Open(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.Stat(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestS3Store_RoundTrip(t *testing.T) {
	s, _ := newS3(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "final/a", strings.NewReader("payload"), 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", readAll(t, s, "final/a"))

	info, err := s.Stat(ctx, "final/a")
	require.NoError(t, err)
	assert.EqualValues(t, 7, info.Size)

	require.NoError(t, s.Delete(ctx, "final/a"))
	_, err = s.Stat(ctx, "final/a")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestS3Store_ListAndDeletePrefix(t *testing.T) {
	s, f := newS3(t)
	ctx := context.Background()
	for _, k := range []string{"staging/a/0", "staging/a/1", "staging/b/0"} {
		_, err := s.Put(ctx, k, strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	items, err := s.List(ctx, "staging/a/")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, s.DeletePrefix(ctx, "staging/a/"))
	assert.Equal(t, 1, f.deletes)
	assert.Len(t, f.objects, 1)

	require.NoError(t, s.DeletePrefix(ctx, "staging/none/"))
	assert.Equal(t, 1, f.deletes, "empty page issues no delete")
}

func TestS3Store_ListError(t *testing.T) {
	s, f := newS3(t)
	f.listErr = errors.New("denied")
	_, err := s.List(context.Background(), "staging/")
	assert.ErrorContains(t, err, "failed to list objects")
	assert.ErrorContains(t, s.DeletePrefix(context.Background(), "staging/"), "denied")
}

func TestDialS3(t *testing.T) {
	origLoad, origNew := loadAWSConfig, newS3Client
	t.Cleanup(func() { loadAWSConfig, newS3Client = origLoad, origNew })

	var gotOpts s3.Options
	loadAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		return aws.Config{Region: lo.Region}, nil
	}
	newS3Client = func(cfg aws.Config, optFns ...func(*s3.Options)) S3API {
		for _, fn := range optFns {
			fn(&gotOpts)
		}
		return newFakeS3()
	}

	s, err := DialS3(context.Background(), S3Options{
		Region: "us-east-1", AccessKey: "k", SecretKey: "s", Bucket: "b", BaseEndpoint: "http://minio:9000",
	}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "b", s.bucket)
	assert.Equal(t, "http://minio:9000", aws.ToString(gotOpts.BaseEndpoint))
	assert.True(t, gotOpts.UsePathStyle)

	_, err = DialS3(context.Background(), S3Options{}, logging.Discard())
	assert.ErrorIs(t, err, common.ErrorValidation)

	loadAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}
	_, err = DialS3(context.Background(), S3Options{Bucket: "b"}, logging.Discard())
	assert.ErrorContains(t, err, "no creds")
}
