// Package publish uploads finished shard files to S3.
package publish

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// S3Client is the part of the S3 API the publisher needs. *s3.S3
// satisfies it.
type S3Client interface {
	PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

// ParseS3URI
// Splits `s3://bucket/prefix` into its bucket and key prefix. The prefix
// has no leading or trailing slash.
func ParseS3URI(uri string) (bucket string, prefix string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid output uri `%s`: %w", uri, err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid output uri `%s`: scheme must "+
			"be s3", uri)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("invalid output uri `%s`: missing bucket",
			uri)
	}
	return parsed.Host, strings.Trim(parsed.Path, "/"), nil
}

// NewS3Client builds a client from the shared AWS configuration.
func NewS3Client(region string, endpoint string) (*s3.S3, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	config := aws.NewConfig()
	if region != "" {
		config = config.WithRegion(region)
	}
	if endpoint != "" {
		config = config.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	return s3.New(sess, config), nil
}

type Publisher struct {
	client S3Client
	bucket string
	prefix string
	logger *log.Entry
}

func NewPublisher(client S3Client, uri string,
	logger *log.Entry) (*Publisher, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Key is the object key a local file is uploaded under.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

func (p *Publisher) Upload(localPath string) error {
	handle, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer handle.Close()
	stat, err := handle.Stat()
	if err != nil {
		return err
	}
	key := p.Key(localPath)
	if _, err = p.client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          handle,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
	}); err != nil {
		return fmt.Errorf("upload `%s` to s3://%s/%s: %w", localPath,
			p.bucket, key, err)
	}
	p.logger.WithFields(log.Fields{
		"shard": localPath,
		"size":  humanize.Bytes(uint64(stat.Size())),
	}).Debugf("Uploaded to s3://%s/%s", p.bucket, key)
	return nil
}

// UploadAll uploads every path, continuing past failures, and returns them
// joined.
func (p *Publisher) UploadAll(paths []string) error {
	var errs []error
	for _, localPath := range paths {
		if err := p.Upload(localPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
