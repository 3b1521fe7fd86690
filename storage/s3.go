package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Container implements a blob container using Amazon S3 or compatible services.
// Blob names are object keys below an optional prefix.
type S3Container struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Container creates a new S3 blob container.
// If accessKey and secretKey are empty, the default AWS credential chain is used.
func NewS3Container(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Container, error) {
	// Format the URI for tracking, never include the secret
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}

	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3ContainerWithClient(s3.New(sess), bucketName, prefix, uri, log), nil
}

// NewS3ContainerWithClient wraps an existing S3 client.
func NewS3ContainerWithClient(client s3iface.S3API, bucketName, prefix, locationURI string, log *slog.Logger) *S3Container {
	return &S3Container{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: locationURI,
	}
}

// GetAllBytesOrNil retrieves an object from S3.
// Returns (nil, nil) if the object doesn't exist.
func (c *S3Container) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	key := c.getObjectKey(name)

	result, err := c.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			c.log.Debug("Blob not found in S3",
				slog.String("bucket", c.bucketName),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return nil, nil
		}

		c.log.Error("Failed to get object from S3",
			slog.String("bucket", c.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	c.log.Debug("Fetched blob from S3",
		slog.String("bucket", c.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Available checks if the bucket is accessible.
func (c *S3Container) Available(ctx context.Context) bool {
	_, err := c.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucketName),
	})
	if err != nil {
		c.log.Warn("S3 container unavailable",
			slog.String("bucket", c.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this container.
func (c *S3Container) Name() string {
	return fmt.Sprintf("s3-%s", c.bucketName)
}

// LocationURI returns the URI that identifies this container.
func (c *S3Container) LocationURI() string {
	return c.locationURI
}

func (c *S3Container) getObjectKey(name string) string {
	name = strings.TrimPrefix(name, "/")
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}
