package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const archivePrefix = "engine-backup-"
const minBackupsToKeep = 3

// Metadata describes one archive's contents, written alongside the event
// store snapshot and msgpack-encoded for a compact on-disk representation.
type Metadata struct {
	Timestamp time.Time `msgpack:"timestamp"`
	Filename  string    `msgpack:"filename"`
	SizeBytes int64     `msgpack:"size_bytes"`
	Checksum  string    `msgpack:"checksum"`
}

// Info is one backup's listing entry, read back from S3 object metadata.
type Info struct {
	Filename  string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

// Service archives the event-store database and uploads it to S3: stage a
// tar.gz archive with a checksummed metadata file, upload, and periodically
// rotate old backups.
type Service struct {
	client  *Client
	dbPath  string
	dataDir string
	log     zerolog.Logger
}

// NewService constructs a Service that archives the SQLite file at dbPath,
// staging intermediate files under dataDir.
func NewService(client *Client, dbPath, dataDir string, log zerolog.Logger) *Service {
	return &Service{
		client:  client,
		dbPath:  dbPath,
		dataDir: dataDir,
		log:     log.With().Str("component", "backup_service").Logger(),
	}
}

// CreateAndUpload stages, archives, and uploads a snapshot of the event
// store database.
func (s *Service) CreateAndUpload(ctx context.Context) error {
	start := time.Now()
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("backup: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbStagePath := filepath.Join(stagingDir, "events.db")
	if err := copyFile(s.dbPath, dbStagePath); err != nil {
		return fmt.Errorf("backup: stage event store: %w", err)
	}

	info, err := os.Stat(dbStagePath)
	if err != nil {
		return fmt.Errorf("backup: stat staged db: %w", err)
	}
	checksum, err := checksumFile(dbStagePath)
	if err != nil {
		return fmt.Errorf("backup: checksum staged db: %w", err)
	}

	timestamp := time.Now().UTC()
	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, timestamp.Format("2006-01-02-150405"))

	metadata := Metadata{Timestamp: timestamp, Filename: "events.db", SizeBytes: info.Size(), Checksum: checksum}
	metadataPath := filepath.Join(stagingDir, "metadata.msgpack")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}

	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, []string{"events.db", "metadata.msgpack"}); err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer archiveFile.Close()

	uploader := manager.NewUploader(s.client.s3)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(archiveName),
		Body:   archiveFile,
	}); err != nil {
		return fmt.Errorf("backup: upload archive: %w", err)
	}

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration_ms", time.Since(start)).
		Msg("event store backup uploaded")
	return nil
}

// List returns every backup archive in the bucket, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	out, err := s.client.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.client.bucket),
		Prefix: aws.String(archivePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list objects: %w", err)
	}

	now := time.Now()
	backups := make([]Info, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(filename, archivePrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", ts)
		if err != nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, Info{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// Rotate deletes backups older than retentionDays, always keeping the
// minBackupsToKeep most recent regardless of age. retentionDays == 0 keeps
// everything.
func (s *Service) Rotate(ctx context.Context, retentionDays int) error {
	backups, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("backup: list for rotation: %w", err)
	}
	if len(backups) <= minBackupsToKeep || retentionDays == 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := s.client.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.client.bucket),
			Key:    aws.String(b.Filename),
		}); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation completed")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata Metadata) error {
	data, err := msgpack.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzWriter := gzip.NewWriter(archiveFile)
	defer gzWriter.Close()
	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, name := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{Name: nameInArchive, Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
