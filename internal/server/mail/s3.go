package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Settings locates the S3-compatible backend holding the outbox.
type S3Settings struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

// NewS3Client builds an S3 client for s. Static credentials are used when
// an access key is given, the default AWS chain otherwise.
func NewS3Client(ctx context.Context, s S3Settings) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.Region)}
	if s.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Outbox delivers a message by writing it as a JSON object into a bucket
// drained by the mail relay.
type S3Outbox struct {
	client objectPutter
	bucket string
	from   string
	now    func() time.Time
}

func NewS3Outbox(client objectPutter, bucket, from string) *S3Outbox {
	return &S3Outbox{client: client, bucket: bucket, from: from, now: time.Now}
}

type outboxMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func (o *S3Outbox) Send(ctx context.Context, msg Message) error {
	now := o.now().UTC()
	m := outboxMessage{
		ID:        uuid.NewString(),
		From:      o.from,
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: now,
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := fmt.Sprintf("outbox/%s/%s.json", now.Format("2006/01/02"), m.ID)
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put outbox object: %w", err)
	}
	return nil
}
