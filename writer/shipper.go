package writer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "depthflow/config"
	"depthflow/internal/archive"
	"depthflow/internal/metadata"
	"depthflow/internal/timestamp"
	"depthflow/logger"
)

// ObjectPutter is the part of the S3 client the shipper needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from the storage settings. Static
// credentials are used when both keys are configured, otherwise the default
// AWS credential chain.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Shipper uploads closed day files and records them in the manifest.
type Shipper struct {
	client   ObjectPutter
	bucket   string
	prefix   string
	symbol   string
	dir      string
	version  string
	manifest *metadata.Manifest
	log      *logger.Log
}

// NewShipper returns a shipper for the archive of cfg.
func NewShipper(client ObjectPutter, cfg *appconfig.Config) (*Shipper, error) {
	prefix := strings.Trim(cfg.Storage.S3.Prefix, "/")
	location := "s3://" + cfg.Storage.S3.Bucket
	if prefix != "" {
		location += "/" + prefix
	}
	manifest, err := metadata.Open(cfg.Archive.Dir, location, cfg.Source.Symbol)
	if err != nil {
		return nil, err
	}
	return &Shipper{
		client:   client,
		bucket:   cfg.Storage.S3.Bucket,
		prefix:   prefix,
		symbol:   cfg.Source.Symbol,
		dir:      cfg.Archive.Dir,
		version:  cfg.Depthflow.Version,
		manifest: manifest,
		log:      logger.GetLogger(),
	}, nil
}

// ObjectKey returns the partitioned key of date's file.
func (s *Shipper) ObjectKey(date string) (string, error) {
	t, err := timestamp.ParseDate(date, time.UTC)
	if err != nil {
		return "", err
	}
	return path.Join(
		s.prefix,
		"symbol="+s.symbol,
		fmt.Sprintf("year=%04d", t.Year()),
		fmt.Sprintf("month=%02d", int(t.Month())),
		fmt.Sprintf("day=%02d", t.Day()),
		archive.FileName(date),
	), nil
}

// Shipped reports whether date is already recorded in the manifest.
func (s *Shipper) Shipped(date string) bool { return s.manifest.Shipped(date) }

// Ship uploads the file of date and records it. A date already in the
// manifest is skipped.
func (s *Shipper) Ship(ctx context.Context, date string) error {
	if s.manifest.Shipped(date) {
		return nil
	}
	log := s.log.WithComponent("archive_shipper").WithFields(logger.Fields{
		"date":   date,
		"bucket": s.bucket,
	})

	key, err := s.ObjectKey(date)
	if err != nil {
		return err
	}
	local := filepath.Join(s.dir, archive.FileName(date))
	stats, err := dayStats(local)
	if err != nil {
		return fmt.Errorf("read %s for shipping: %w", local, err)
	}
	file, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s for shipping: %w", local, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s for shipping: %w", local, err)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"format":            "bbolt",
			"compression":       "gzip",
			"groups":            strconv.FormatInt(stats.Groups, 10),
			"depthflow-version": s.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	logger.LogPerformanceEntry(log, "archive_shipper", "put_object", time.Since(start), logger.Fields{
		"bytes": info.Size(),
	})

	t, _ := timestamp.ParseDate(date, time.UTC)
	entry := metadata.ShippedFile{
		Date:        date,
		Path:        fmt.Sprintf("s3://%s/%s", s.bucket, key),
		FileSize:    info.Size(),
		RecordCount: stats.Rows,
		Partition: map[string]any{
			"symbol": s.symbol,
			"year":   t.Year(),
			"month":  int(t.Month()),
			"day":    t.Day(),
		},
		ShippedAt: time.Now().UTC(),
	}
	if err := s.manifest.Add(entry); err != nil {
		return fmt.Errorf("record %s in manifest: %w", date, err)
	}

	log.WithFields(logger.Fields{"key": key, "rows": stats.Rows, "groups": stats.Groups}).Info("day file shipped")
	return nil
}

// dayStats reads the running totals of a closed day file.
func dayStats(path string) (archive.Stats, error) {
	f, err := archive.OpenReadOnly(path)
	if err != nil {
		return archive.Stats{}, err
	}
	defer f.Close()
	return f.Stats()
}

// ShipPending ships every day file dated before current that is not yet in
// the manifest. Failures are logged and the remaining dates are still
// attempted; the number shipped is returned.
func (s *Shipper) ShipPending(ctx context.Context, current string) int {
	log := s.log.WithComponent("archive_shipper")
	dates, err := archive.Dates(s.dir)
	if err != nil {
		log.WithError(err).Warn("failed to list archive files")
		return 0
	}

	shipped := 0
	for _, date := range dates {
		if date >= current || s.manifest.Shipped(date) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return shipped
		}
		if err := s.Ship(ctx, date); err != nil {
			log.WithError(err).WithFields(logger.Fields{"date": date}).Warn("failed to ship day file")
			continue
		}
		shipped++
	}
	return shipped
}
