package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Archiver writes transcripts as JSON objects to an S3-compatible bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3(cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("archive: S3 credentials required")
	}
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	// Buckets with dots break virtual-host TLS names.
	pathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

func (a *S3Archiver) Store(ctx context.Context, t Transcript) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	key := Key(t)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"call-sid":  t.CallSid,
			"client-id": t.TenantID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive put %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
