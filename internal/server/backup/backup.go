// Package backup exports nightly order-book snapshots to S3-compatible
// object storage. The snapshot is a plain JSON document: enough to rebuild
// the amount-matching state by hand if the database is lost.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/repositories/repomanager"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// Config carries the object storage settings.
type Config struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// Service snapshots the order book.
type Service struct {
	cfg    Config
	db     *sql.DB // nil in memory mode
	repos  repomanager.RepositoryManager
	logger logging.Logger
	now    func() time.Time
}

func NewService(cfg Config, db *sql.DB, repos repomanager.RepositoryManager, logger logging.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:    cfg,
		db:     db,
		repos:  repos,
		logger: logger.With("module", "backup"),
		now:    now,
	}
}

type snapshot struct {
	TakenAt  time.Time       `json:"taken_at"`
	Waiting  []*models.Order `json:"waiting"`
	Verified []*models.Order `json:"verified"`
	Expired  []*models.Order `json:"expired"`
}

func (s *Service) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.RootUser,
			s.cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.BaseEndpoint)
		}
	}), nil
}

func (s *Service) storageKey(t time.Time) string {
	return fmt.Sprintf("backups/%d/%02d/%02d/orders-%d.json", t.Year(), t.Month(), t.Day(), t.Unix())
}

// Run takes one snapshot and uploads it. Returns the object key.
func (s *Service) Run(ctx context.Context) (string, error) {
	ordersRepo := s.repos.Orders(s.db)

	snap := snapshot{TakenAt: s.now()}
	var err error
	if snap.Waiting, err = ordersRepo.ListByState(ctx, models.OrderWaiting); err != nil {
		return "", err
	}
	if snap.Verified, err = ordersRepo.ListByState(ctx, models.OrderVerified); err != nil {
		return "", err
	}
	if snap.Expired, err = ordersRepo.ListByState(ctx, models.OrderExpired); err != nil {
		return "", err
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.cfg.Bucket
	key := s.storageKey(snap.TakenAt)
	contentType := "application/json"
	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	}); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "order book snapshot uploaded",
		"key", key, "waiting", len(snap.Waiting), "verified", len(snap.Verified))
	return key, nil
}
