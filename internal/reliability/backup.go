// Package reliability provides database snapshot backups to S3.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/database"
)

// S3BackupService archives the data directory and uploads the snapshot.
type S3BackupService struct {
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	dataDir   string
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewS3BackupService builds the backup service from config. Returns nil
// when backups are disabled.
func NewS3BackupService(ctx context.Context, cfg *config.Config, databases map[string]*database.DB, log zerolog.Logger) (*S3BackupService, error) {
	if !cfg.BackupEnabled {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3BackupService{
		uploader:  manager.NewUploader(s3.NewFromConfig(awsCfg)),
		bucket:    cfg.BackupBucket,
		prefix:    strings.Trim(cfg.BackupPrefix, "/"),
		dataDir:   cfg.DataDir,
		databases: databases,
		log:       log.With().Str("service", "s3_backup").Logger(),
	}, nil
}

// Backup checkpoints every database, archives the .db files, and uploads
// the archive.
func (s *S3BackupService) Backup(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting backup")

	// Flush the WAL so the main files are complete on disk
	for name, db := range s.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return fmt.Errorf("checkpoint %s before backup: %w", name, err)
		}
	}

	archivePath := filepath.Join(s.dataDir, fmt.Sprintf("backup-%s.tar.gz", start.UTC().Format("20060102-150405")))
	if err := s.createArchive(archivePath); err != nil {
		return err
	}
	defer os.Remove(archivePath)

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	key := filepath.Base(archivePath)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Dur("elapsed", time.Since(start)).
		Msg("Backup uploaded")
	return nil
}

// createArchive writes a tar.gz of the database files.
func (s *S3BackupService) createArchive(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for name, db := range s.databases {
		if err := addFile(tw, db.Path()); err != nil {
			return fmt.Errorf("failed to archive %s: %w", name, err)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}
