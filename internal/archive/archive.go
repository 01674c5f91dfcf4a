// Package archive exports purged events to S3/MinIO as JSON batch
// objects so that admin purges never lose data.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/edupulse/event-pipeline/internal/config"
	"github.com/edupulse/event-pipeline/internal/events"
)

// Service uploads event batches to an S3-compatible bucket.
type Service struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewService creates an archive service from the archive config.
func NewService(cfg config.ArchiveConfig, logger *slog.Logger) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Handle case where endpoint already includes protocol
	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true, // Required for MinIO
	})

	return &Service{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// batch is the JSON document written per archive object.
type batch struct {
	ArchivedAt time.Time      `json:"archived_at"`
	Count      int            `json:"count"`
	Events     []events.Event `json:"events"`
}

// Archive uploads the events as a single JSON object and returns its
// storage key. Empty batches are a no-op.
func (s *Service) Archive(ctx context.Context, evs []events.Event) (string, error) {
	if len(evs) == 0 {
		return "", nil
	}

	now := time.Now().UTC()
	doc := batch{
		ArchivedAt: now,
		Count:      len(evs),
		Events:     evs,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive batch: %w", err)
	}

	key := fmt.Sprintf("events/%s/%s.json",
		now.Format("2006/01/02"),
		uuid.New().String(),
	)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive batch: %w", err)
	}

	s.logger.Info("archived events",
		slog.String("key", key),
		slog.Int("count", len(evs)),
		slog.Int("bytes", len(data)))

	return key, nil
}
