package evidence

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"plategate/internal/config"
	"plategate/internal/model"
)

// Archive stores evidence frames in an S3-compatible bucket. Uploads are best
// effort; a failed archive never blocks a gate decision.
type Archive struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewArchive(cfg config.EvidenceConfig, logger *slog.Logger) (*Archive, error) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("evidence archive disabled")
		}
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create evidence client: %w", err)
	}
	if logger != nil {
		logger.Info("evidence archive enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	}
	return &Archive{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (a *Archive) EnsureBucket(ctx context.Context) error {
	if a == nil || a.client == nil {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
}

// Store uploads one evidence JPEG and returns its object key.
func (a *Archive) Store(ctx context.Context, lotID string, direction model.Direction, plate string, jpegData []byte) (string, error) {
	if a == nil || a.client == nil || len(jpegData) == 0 {
		return "", nil
	}
	key := fmt.Sprintf("%s/%s/%s/%s.jpg",
		lotID,
		direction,
		time.Now().UTC().Format("2006-01-02"),
		uuid.NewString(),
	)
	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(jpegData), int64(len(jpegData)),
		minio.PutObjectOptions{
			ContentType:  "image/jpeg",
			UserMetadata: map[string]string{"plate": plate},
		},
	)
	if err != nil {
		return "", fmt.Errorf("store evidence frame: %w", err)
	}
	return key, nil
}
