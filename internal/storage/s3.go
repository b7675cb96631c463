package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sdko-org/trackerspotter/internal/config"
	"github.com/sirupsen/logrus"
)

type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3ConfigFrom picks the archive settings out of the service config.
func S3ConfigFrom(cfg *config.Config) S3Config {
	return S3Config{
		Bucket:    cfg.ArchiveS3Bucket,
		Prefix:    cfg.ArchiveS3Prefix,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}
}

type S3Archiver struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	log      *logrus.Entry
}

func NewS3Archiver(logger *logrus.Logger, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}

	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}

	return &S3Archiver{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log: logger.WithFields(logrus.Fields{
			"component": "s3_archive",
			"bucket":    cfg.Bucket,
		}),
	}, nil
}

func (a *S3Archiver) Put(ctx context.Context, key string, body []byte, contentType string) error {
	objectKey := path.Join(a.prefix, key)
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"Archive-Size": aws.String(strconv.Itoa(len(body))),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"key":   objectKey,
		"bytes": len(body),
	}).Info("Archive uploaded")
	return nil
}
