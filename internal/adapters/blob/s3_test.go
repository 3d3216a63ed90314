package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts      map[string][]byte
	types     map[string]string
	deleteErr error
	deleted   []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts, f.types = map[string][]byte{}, map[string]string{}
	}
	f.puts[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestUploadReturnsPublicURL(t *testing.T) {
	fake := &fakeS3{}
	s := newS3(fake, Config{Bucket: "alarms", PublicBaseURL: "https://cdn.example.com/"})

	url, err := s.Upload(context.Background(), "audio/weather/b1/alloy-1.mp3", []byte("ID3"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/weather/b1/alloy-1.mp3", url)
	assert.Equal(t, []byte("ID3"), fake.puts["audio/weather/b1/alloy-1.mp3"])
	assert.Equal(t, "audio/mpeg", fake.types["audio/weather/b1/alloy-1.mp3"])
}

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/", publicBase(Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com"}))
	assert.Equal(t, "http://minio:9000/b/", publicBase(Config{Bucket: "b", Endpoint: "http://minio:9000/"}))
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/", publicBase(Config{Bucket: "b", Region: "eu-west-1"}))
}

func TestPathFromURL(t *testing.T) {
	s := newS3(&fakeS3{}, Config{Bucket: "alarms", Endpoint: "http://minio:9000"})

	path, err := s.PathFromURL(s.PublicURL("audio/news/b2/nova-5.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio/news/b2/nova-5.mp3", path)

	_, err = s.PathFromURL("https://elsewhere.example.com/audio/x.mp3")
	require.Error(t, err)

	_, err = s.PathFromURL("http://minio:9000/alarms/")
	require.Error(t, err)
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	fake := &fakeS3{deleteErr: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}}
	s := newS3(fake, Config{Bucket: "alarms"})
	require.NoError(t, s.Delete(context.Background(), "audio/x.mp3"))
	assert.Equal(t, []string{"audio/x.mp3"}, fake.deleted)
}

func TestDeleteReturnsOtherErrors(t *testing.T) {
	fake := &fakeS3{deleteErr: errors.New("access denied")}
	s := newS3(fake, Config{Bucket: "alarms"})
	err := s.Delete(context.Background(), "audio/x.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
