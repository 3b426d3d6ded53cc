// Package objectstore uploads product images to S3 or an S3-compatible store.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"storefront/internal/config"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxObjectSize bounds a single upload.
const MaxObjectSize = 10 << 20

type Conf struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewConf(ctx context.Context, c config.S3) (*Conf, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := c.PublicBaseURL
	if base == "" {
		if c.Endpoint != "" {
			base = strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
		}
	}
	return &Conf{client: client, bucket: c.Bucket, publicBaseURL: strings.TrimRight(base, "/")}, nil
}

// PutObject uploads body under key and returns the object's public URL.
func (s *Conf) PutObject(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, MaxObjectSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(raw) > MaxObjectSize {
		return "", fmt.Errorf("upload exceeds %d bytes", MaxObjectSize)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(raw),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(raw))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.URL(key), nil
}

func (s *Conf) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicBaseURL + "/" + strings.Join(parts, "/")
}
