package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "arewefast/raw"

const preflightKey = ".arewefast-write-test"

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
// optFns are applied after the configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3ArchiveConfig,
	optFns ...func(*s3.Options),
) Uploader {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	opts = append(opts, optFns...)

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("arewefast write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.resolveKey(preflightKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload writes obj under <prefix>/<command>/<unix-time>[_<host>].json.
func (u *s3Uploader) Upload(ctx context.Context, obj *Object) (string, error) {
	key := u.resolveKey(objectName(obj))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(obj.Body),
		ContentType: aws.String(detectContentType(key)),
		Metadata:    obj.Metadata,
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
		"bytes":  len(obj.Body),
	}).Debug("Uploading raw output")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("uploading s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}

	u.log.WithFields(logrus.Fields{
		"bucket": u.cfg.Bucket,
		"key":    key,
	}).Info("Raw output archived")

	return key, nil
}

// objectName is the key of obj relative to the configured prefix.
func objectName(obj *Object) string {
	name := strconv.FormatInt(obj.Time.UTC().Unix(), 10)
	if obj.Host != "" {
		name += "_" + obj.Host
	}

	return path.Join(obj.Command, name+".json")
}

// resolveKey prepends the configured prefix to name.
func (u *s3Uploader) resolveKey(name string) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return strings.TrimRight(prefix, "/") + "/" + name
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(key string) string {
	ext := path.Ext(key)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
