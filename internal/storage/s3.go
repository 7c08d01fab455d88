package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Hardy0611/shooting-arena/internal/game"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ServiceConfig holds the settings for an S3-compatible bucket.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// uploader is the part of manager.Uploader the archive needs.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archive stores each finished match as a JSON object.
type S3Archive struct {
	bucket   string
	uploader uploader
}

// NewS3Archive builds a client for a custom endpoint with static credentials.
func NewS3Archive(ctx context.Context, cfg ServiceConfig) (*S3Archive, error) {
	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return &S3Archive{bucket: cfg.S3BucketName, uploader: manager.NewUploader(client)}, nil
}

func (a *S3Archive) SaveMatch(ctx context.Context, r game.MatchResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode match: %w", err)
	}
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(MatchKey(r)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload match %s: %w", r.ID, err)
	}
	return nil
}

// MatchKey is the object key for r, grouped by the day the match ended.
func MatchKey(r game.MatchResult) string {
	return fmt.Sprintf("matches/%s/%s.json", r.EndedAt.UTC().Format("2006/01/02"), r.ID)
}
