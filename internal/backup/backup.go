// Package backup dumps the instance's database with pg_dump and ships the
// archive to S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"

	"vidstore/internal/model"
)

const keyTimeFormat = "20060102T150405Z"

type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Uploader writes dump archives to a bucket.
type Uploader struct {
	s3     *s3.Client
	bucket string
	prefix string
}

func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("backup bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &Uploader{s3: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket, tolerating one that already exists.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	_, err := u.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)})
	if err != nil && !isBucketAlreadyOwned(err) {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

func (u *Uploader) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	_, err := u.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %s in bucket %s: %w", key, u.bucket, err)
	}
	return nil
}

// List returns the archive keys stored for container, oldest first.
func (u *Uploader) List(ctx context.Context, container string) ([]string, error) {
	prefix := path.Join(u.prefix, container) + "/"
	var keys []string
	p := s3.NewListObjectsV2Paginator(u.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in bucket %s: %w", u.bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func isBucketAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
	}
	return false
}

// ObjectKey is <prefix>/<container>/<UTC timestamp>.dump.
func ObjectKey(prefix, container string, at time.Time) string {
	return path.Join(prefix, container, at.UTC().Format(keyTimeFormat)+".dump")
}

type Streamer interface {
	ExecStream(ctx context.Context, id string, cmd []string, stdout, stderr io.Writer) (int, error)
}

type Recorder interface {
	RecordBackup(instance string, err error)
}

type Result struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

type Backup struct {
	Runtime  Streamer
	Uploader *Uploader
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  Recorder
}

// Run dumps the instance's database in custom format inside the container,
// spools the archive to a temp file and uploads it.
func (b *Backup) Run(ctx context.Context, it model.Instance) (Result, error) {
	res, err := b.run(ctx, it)
	if b.Metrics != nil {
		b.Metrics.RecordBackup(it.Name, err)
	}
	if err != nil {
		b.logger().Error("backup failed", "name", it.Name, "error", err)
		return Result{}, err
	}
	b.logger().Info("backup uploaded", "name", it.Name, "key", res.Key, "bytes", res.Bytes)
	return res, nil
}

func (b *Backup) run(ctx context.Context, it model.Instance) (Result, error) {
	clk := b.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	started := clk.Now()

	tmp, err := os.CreateTemp("", "vidstore-*.dump")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	var stderr bytes.Buffer
	cmd := []string{"pg_dump", "-Fc", "-U", it.User, "-d", it.DB}
	code, err := b.Runtime.ExecStream(ctx, it.ContainerID, cmd, tmp, &stderr)
	if err != nil {
		return Result{}, fmt.Errorf("pg_dump: %w", err)
	}
	if code != 0 {
		return Result{}, fmt.Errorf("pg_dump exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return Result{}, fmt.Errorf("size dump: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("rewind dump: %w", err)
	}

	key := ObjectKey(b.Uploader.prefix, it.Name, started)
	if err := b.Uploader.Put(ctx, key, tmp, size); err != nil {
		return Result{}, err
	}
	return Result{Key: key, Bytes: size}, nil
}

func (b *Backup) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
