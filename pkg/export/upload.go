package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config locates the bucket exports are uploaded to.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint and static keys are for S3-compatible stores. Without keys
	// the SDK's default credential chain is used.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader copies export files to S3.
type Uploader struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewUploader creates an S3 session for cfg.
func NewUploader(cfg S3Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &Uploader{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Key returns the object key a local file is uploaded to.
func (u *Uploader) Key(localPath string) string {
	return path.Join(u.prefix, filepath.Base(localPath))
}

// Upload copies the export file in res to S3 and returns the object location.
func (u *Uploader) Upload(ctx context.Context, res *Result) (string, error) {
	file, err := os.Open(res.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for upload: %w", res.Path, err)
	}
	defer file.Close()

	key := u.Key(res.Path)
	out, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
		Metadata: map[string]*string{
			"hour-count": aws.String(strconv.Itoa(res.HoursExported)),
			"format":     aws.String(string(res.Format)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("✅ Uploaded %s to s3://%s/%s", res.Path, u.bucket, key)
	return out.Location, nil
}
