package core

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"perproute/config"
	"perproute/pkg/s3client"
	"perproute/pkg/utils"
)

const journalFlushInterval = time.Hour

// Run hosts the background upkeep: periodic journal uploads to S3 when a
// bucket is configured. It blocks until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	log.Info("🦿 Running...")

	if cfg.Journal == nil || cfg.Journal.S3Bucket == "" || Events == nil {
		<-ctx.Done()
		return nil
	}

	s3Client, err := s3client.New(
		utils.LoadEnv("AWS_ACCESS_KEY"),
		utils.LoadEnv("AWS_SECRET_KEY"),
		utils.LoadEnvWithDefault("AWS_REGION", "ap-southeast-1"),
	)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := Events.FlushToS3(s3Client, cfg.Journal.S3Bucket); err != nil {
				log.Errorf("fail to flush journal to s3: %v", err)
			}
		}
	}
}
