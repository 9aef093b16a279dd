package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingkit/internal/pkg/config"
)

// Client writes verified webhook payloads to an S3 compatible bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	region     string
	endpoint   string
	now        func() time.Time
}

// NewClient creates the archive client and checks the bucket. Outside of
// prod a missing bucket is created.
func NewClient(ctx context.Context, cfg config.Archive, appEnv string) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook archive is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	c := &Client{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		region:     cfg.Region,
		endpoint:   cfg.EndpointURL,
		now:        time.Now,
	}
	if err := c.ensureBucket(ctx, appEnv); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Webhook archive ready, bucket: %s", cfg.BucketName)
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context, appEnv string) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucketName),
	})
	if err == nil {
		return nil
	}
	if appEnv == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", c.bucketName, err)
	}

	log.Warnf("[Archive] Bucket %s not found, attempting to create it", c.bucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(c.bucketName)}
	if c.endpoint == "" && c.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucketName, err)
	}
	return nil
}

// ObjectKey returns webhooks/{provider}/YYYY/MM/DD/{eventID}.json.
func ObjectKey(provider, eventID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", provider, at.Year(), int(at.Month()), at.Day(), eventID)
}

// ArchiveWebhook uploads the raw body and returns the object key.
func (c *Client) ArchiveWebhook(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	key := ObjectKey(provider, eventID, c.now())

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"provider":      provider,
			"event-id":      eventID,
			"upload-source": "billingkit-webhook",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload webhook %s to S3: %w", eventID, err)
	}
	return key, nil
}
