package driftreport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const reportContentType = "application/json"

var (
	// ErrMissingBucket indicates an upload without a destination bucket.
	ErrMissingBucket = errors.New("driftreport: bucket is required")
)

// S3Config points the archive at AWS S3 or an S3-compatible endpoint.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectPutter is satisfied by *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOptions := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOptions = append(loadOptions, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsConfig, func(options *s3.Options) {
		if cfg.EndpointURL != "" {
			options.BaseEndpoint = aws.String(cfg.EndpointURL)
			options.UsePathStyle = true
		}
	}), nil
}

// Uploader archives reports into one bucket.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewUploader validates the destination.
func NewUploader(client ObjectPutter, bucket string, prefix string) (*Uploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, ErrMissingBucket
	}
	return &Uploader{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// Upload stores the report and returns its object key.
func (uploader *Uploader) Upload(ctx context.Context, report Report) (string, error) {
	body, err := report.MarshalIndented()
	if err != nil {
		return "", fmt.Errorf("encode drift report: %w", err)
	}
	key := report.ObjectKey(uploader.prefix)
	_, err = uploader.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(uploader.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(reportContentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload drift report s3://%s/%s: %w", uploader.bucket, key, err)
	}
	return key, nil
}
