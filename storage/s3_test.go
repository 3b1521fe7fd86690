package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	s3iface.S3API
	mock.Mock
}

func (m *mockS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	args := m.Called(aws.StringValue(input.Bucket), aws.StringValue(input.Key))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockS3) HeadBucketWithContext(ctx aws.Context, input *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	args := m.Called(aws.StringValue(input.Bucket))
	return &s3.HeadBucketOutput{}, args.Error(0)
}

func TestS3Container(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("fetches object below prefix", func(t *testing.T) {
		client := &mockS3{}
		client.On("GetObjectWithContext", "pay-certs", "prod/apiclient_cert.p12").Return(&s3.GetObjectOutput{
			Body: io.NopCloser(bytes.NewReader([]byte("bundle"))),
		}, nil)

		container := NewS3ContainerWithClient(client, "pay-certs", "/prod/", "s3://pay-certs/prod", logger)
		data, err := container.GetAllBytesOrNil(context.Background(), "apiclient_cert.p12")
		require.NoError(t, err)
		assert.Equal(t, []byte("bundle"), data)
		client.AssertExpectations(t)
	})

	t.Run("missing key is absent", func(t *testing.T) {
		client := &mockS3{}
		client.On("GetObjectWithContext", "pay-certs", "apiclient_cert.p12").
			Return(nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil))

		container := NewS3ContainerWithClient(client, "pay-certs", "", "s3://pay-certs", logger)
		data, err := container.GetAllBytesOrNil(context.Background(), "apiclient_cert.p12")
		assert.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("backend failures are errors", func(t *testing.T) {
		client := &mockS3{}
		client.On("GetObjectWithContext", "pay-certs", "apiclient_cert.p12").
			Return(nil, awserr.New("AccessDenied", "Access Denied", nil))
		client.On("HeadBucketWithContext", "pay-certs").Return(errors.New("forbidden"))

		container := NewS3ContainerWithClient(client, "pay-certs", "", "s3://pay-certs", logger)
		_, err := container.GetAllBytesOrNil(context.Background(), "apiclient_cert.p12")
		assert.Error(t, err)
		assert.False(t, container.Available(context.Background()))
	})
}
