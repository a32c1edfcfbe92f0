package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	artifactDirPerm  = 0o755
	artifactFilePerm = 0o644
	tempPrefix       = ".tmp-"
)

// output_<account id>_<yyyymmddhhmmss>_<8 hex>.mp3
var artifactNamePattern = regexp.MustCompile(`^output_([A-Za-z0-9-]+)_(\d{14})_([0-9a-f]{8})\.mp3$`)

// ArtifactServiceProvider defines the interface for artifact storage.
type ArtifactServiceProvider interface {
	Save(ctx context.Context, ownerID string, audio []byte) (models.Artifact, error)
	Open(ctx context.Context, ownerID, filename string) (*os.File, models.Artifact, error)
	Remove(artifact models.Artifact) error
	EnsureCapacity() error
	Sweep(ctx context.Context, dir string, maxAge time.Duration) (int, error)
	Dir() string
	Retention() time.Duration
}

// ArtifactService names, stores, serves and reclaims generated audio files.
type ArtifactService struct {
	dir          string
	retention    time.Duration
	minFreeBytes uint64
	now          func() time.Time
	freeBytes    func(path string) (uint64, error)
	remove       func(path string) error
}

// NewArtifactService creates a new ArtifactService rooted at dir.
func NewArtifactService(dir string, retention time.Duration, minFreeBytes uint64) *ArtifactService {
	// Ensure the base directory for artifacts exists
	if err := os.MkdirAll(dir, artifactDirPerm); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("Failed to create artifact directory")
	}
	return &ArtifactService{
		dir:          dir,
		retention:    retention,
		minFreeBytes: minFreeBytes,
		now:          time.Now,
		freeBytes:    diskFree,
		remove:       os.Remove,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Dir returns the artifact directory.
func (s *ArtifactService) Dir() string { return s.dir }

// Retention returns the artifact retention window.
func (s *ArtifactService) Retention() time.Duration { return s.retention }

// NewArtifactName builds a unique filename for ownerID at t.
func NewArtifactName(ownerID string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("output_%s_%s_%s.mp3", ownerID, t.Format("20060102150405"), suffix)
}

// ParseArtifactName returns the owner encoded in an artifact filename.
func ParseArtifactName(filename string) (ownerID string, ok bool) {
	m := artifactNamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EnsureCapacity fails with ErrStorage when the artifact volume is below the free space floor.
func (s *ArtifactService) EnsureCapacity() error {
	if s.minFreeBytes == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, artifactDirPerm); err != nil {
		return fmt.Errorf("%w: create artifact directory: %v", ErrStorage, err)
	}
	free, err := s.freeBytes(s.dir)
	if err != nil {
		return fmt.Errorf("%w: stat artifact volume: %v", ErrStorage, err)
	}
	if free < s.minFreeBytes {
		return fmt.Errorf("%w: only %d bytes free on artifact volume", ErrStorage, free)
	}
	return nil
}

// Save writes audio for ownerID. The file is written under a hidden temp name and
// renamed into place, so readers and the sweeper never see a partial artifact.
func (s *ArtifactService) Save(ctx context.Context, ownerID string, audio []byte) (models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return models.Artifact{}, err
	}
	if err := s.EnsureCapacity(); err != nil {
		return models.Artifact{}, err
	}

	now := s.now()
	artifact := models.Artifact{
		OwnerID:   ownerID,
		Filename:  NewArtifactName(ownerID, now),
		Size:      int64(len(audio)),
		CreatedAt: now,
	}
	artifact.Path = filepath.Join(s.dir, artifact.Filename)

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: create temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", tmpName).Msg("Failed to remove temp artifact")
		}
	}

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		cleanup()
		return models.Artifact{}, fmt.Errorf("%w: write artifact: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return models.Artifact{}, fmt.Errorf("%w: close artifact: %v", ErrStorage, err)
	}
	if err := os.Chmod(tmpName, artifactFilePerm); err != nil {
		cleanup()
		return models.Artifact{}, fmt.Errorf("%w: chmod artifact: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, artifact.Path); err != nil {
		cleanup()
		return models.Artifact{}, fmt.Errorf("%w: publish artifact: %v", ErrStorage, err)
	}
	return artifact, nil
}

// Open returns the artifact file for download by its owner.
// Expired artifacts are deleted on access and reported as not found.
func (s *ArtifactService) Open(ctx context.Context, ownerID, filename string) (*os.File, models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.Artifact{}, err
	}
	if filename != filepath.Base(filename) {
		return nil, models.Artifact{}, ErrArtifactNotFound
	}
	owner, ok := ParseArtifactName(filename)
	if !ok {
		return nil, models.Artifact{}, ErrArtifactNotFound
	}
	if owner != ownerID {
		return nil, models.Artifact{}, ErrArtifactForbidden
	}

	path := filepath.Join(s.dir, filename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.Artifact{}, ErrArtifactNotFound
		}
		return nil, models.Artifact{}, fmt.Errorf("%w: open artifact: %v", ErrStorage, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, models.Artifact{}, fmt.Errorf("%w: stat artifact: %v", ErrStorage, err)
	}

	artifact := models.Artifact{
		OwnerID:   owner,
		Filename:  filename,
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
	if s.now().Sub(info.ModTime()) > s.retention {
		f.Close()
		if err := s.Remove(artifact); err != nil {
			log.Warn().Err(err).Str("file", filename).Msg("Failed to delete expired artifact on access")
		}
		return nil, models.Artifact{}, ErrArtifactNotFound
	}
	return f, artifact, nil
}

// Remove deletes an artifact file. A file that is already gone is not an error.
func (s *ArtifactService) Remove(artifact models.Artifact) error {
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep deletes every regular file in dir older than maxAge and returns how many were removed.
// A missing directory is created. Per-file failures are logged and skipped.
func (s *ArtifactService) Sweep(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	if err := os.MkdirAll(dir, artifactDirPerm); err != nil {
		return 0, fmt.Errorf("%w: create artifact directory: %v", ErrStorage, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: list artifact directory: %v", ErrStorage, err)
	}

	now := s.now()
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("file", entry.Name()).Msg("Sweeper: could not stat file")
			}
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", entry.Name()).Msg("Sweeper: failed to delete expired file")
			}
			continue
		}
		removed++
		log.Debug().Str("file", entry.Name()).Msg("Sweeper: deleted expired file")
	}
	return removed, nil
}
