package events

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver uploads rotated journal archives to S3-compatible storage so
// the arbitration record outlives the node's disk.
type Archiver struct {
	bucket string
	prefix string
	logger *zap.Logger
	client *s3.Client
}

// ArchiverConfig holds the S3 target. Endpoint is optional and enables
// S3-compatible stores.
type ArchiverConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewArchiver creates an S3 journal archiver.
func NewArchiver(cfg ArchiverConfig, logger *zap.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archiver{
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
		client: client,
	}, nil
}

// Upload puts one local archive into the bucket. The key carries the
// upload date so archives from a long-lived cluster stay browsable.
func (a *Archiver) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(a.prefix, time.Now().UTC().Format("2006/01/02"), filepath.Base(localPath))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", a.bucket, key, err)
	}

	a.logger.Info("journal archived",
		zap.String("bucket", a.bucket),
		zap.String("key", key))
	return nil
}

// OnRotate returns the journal rotation callback: upload, then delete
// the local archive once it is safely stored.
func (a *Archiver) OnRotate() func(string) {
	return func(archivePath string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := a.Upload(ctx, archivePath); err != nil {
			a.logger.Warn("journal archive upload failed; keeping local copy",
				zap.String("path", archivePath),
				zap.Error(err))
			return
		}
		if err := os.Remove(archivePath); err != nil {
			a.logger.Warn("remove archived journal failed",
				zap.String("path", archivePath),
				zap.Error(err))
		}
	}
}
