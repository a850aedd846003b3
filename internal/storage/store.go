// Package storage manages the on-disk layout for video sources and
// transcoded HLS/CMAF output. Every externally influenced path component is
// validated before touching the filesystem; nothing outside the configured
// roots is ever read or written.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
)

// Sentinel errors.
var (
	// ErrUnsafePath is returned when a path component fails validation or
	// the resolved path escapes the storage root.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrChecksumMismatch is returned when uploaded bytes do not match the
	// declared SHA-256.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrSizeMismatch is returned when uploaded bytes do not match the
	// declared size.
	ErrSizeMismatch = errors.New("size mismatch")
)

// filenamePattern accepts segment and playlist filenames: a safe basename
// with a single extension, no separators, no leading dot.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*\.[A-Za-z0-9]+$`)

// ValidFilename reports whether name is acceptable as an on-disk basename.
func ValidFilename(name string) bool {
	return len(name) <= 255 && filenamePattern.MatchString(name)
}

// Store is the filesystem layer beneath the coordinator.
type Store struct {
	cfg    config.StorageConfig
	logger *slog.Logger
	health *healthCache
}

// New creates the storage roots if missing and returns a Store.
func New(cfg config.StorageConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, dir := range []string{cfg.VideosDir, cfg.SourcesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage dir %s: %w", dir, err)
		}
	}
	s := &Store{
		cfg:    cfg,
		logger: log.With(slog.String("component", "storage")),
	}
	s.health = newHealthCache(cfg.HealthCacheTTL, s.probe)
	return s, nil
}

// resolve joins parts beneath root after validating each component, then
// verifies the cleaned result is still inside root.
func resolve(root string, parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." ||
			strings.ContainsRune(p, os.PathSeparator) || strings.ContainsRune(p, '/') {
			return "", ErrUnsafePath
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving storage root: %w", err)
	}
	full := filepath.Join(append([]string{abs}, parts...)...)
	if full != abs && !strings.HasPrefix(full, abs+string(os.PathSeparator)) {
		return "", ErrUnsafePath
	}
	return full, nil
}

// SaveSource streams an uploaded source to disk, keyed by video ID, and
// returns the byte count. A partial write is removed.
func (s *Store) SaveSource(videoID string, r io.Reader) (int64, error) {
	path, err := resolve(s.cfg.SourcesDir, videoID)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating source file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("writing source file: %w", err)
	}
	return n, nil
}

// OpenSource opens the source file of a video for streaming download.
func (s *Store) OpenSource(videoID string) (*os.File, os.FileInfo, error) {
	path, err := resolve(s.cfg.SourcesDir, videoID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening source file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("statting source file: %w", err)
	}
	return f, info, nil
}

// RemoveSource deletes a source file. Missing files are not an error.
func (s *Store) RemoveSource(videoID string) error {
	path, err := resolve(s.cfg.SourcesDir, videoID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing source file: %w", err)
	}
	return nil
}

// segmentPath returns the on-disk location of a segment. CMAF output nests
// per-quality subdirectories; HLS-TS keeps a flat per-video directory with
// quality-prefixed filenames.
func (s *Store) segmentPath(slug string, format models.StreamingFormat, quality models.Quality, filename string) (string, error) {
	if !models.ValidSlug(slug) || !models.ValidQuality(quality) || !ValidFilename(filename) {
		return "", ErrUnsafePath
	}
	if format == models.FormatCMAF {
		return resolve(s.cfg.VideosDir, slug, string(quality), filename)
	}
	return resolve(s.cfg.VideosDir, slug, filename)
}

// WriteSegment verifies and persists one uploaded segment. The bytes are
// hashed while streaming to a temp file; only on a full match is the segment
// renamed into place, so a bad upload never leaves a partial file behind.
func (s *Store) WriteSegment(slug string, format models.StreamingFormat, quality models.Quality, filename string, r io.Reader, wantSize int64, wantSHA256 string) error {
	dst, err := s.segmentPath(slug, format, quality, filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating segment dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp segment: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hasher := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}

	if wantSize >= 0 && n != wantSize {
		return fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, n, wantSize)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(got, wantSHA256) {
		return ErrChecksumMismatch
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("finalizing segment: %w", err)
	}
	return nil
}

// WritePlaylist persists a playlist file (variant or master) for a video.
func (s *Store) WritePlaylist(slug string, format models.StreamingFormat, quality models.Quality, filename string, data []byte) error {
	var dst string
	var err error
	if quality == "" {
		// Master playlist sits at the video root.
		if !models.ValidSlug(slug) || !ValidFilename(filename) {
			return ErrUnsafePath
		}
		dst, err = resolve(s.cfg.VideosDir, slug, filename)
	} else {
		dst, err = s.segmentPath(slug, format, quality, filename)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating playlist dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing playlist: %w", err)
	}
	return nil
}

// ServePath resolves a public streaming request (slug plus relative path)
// to an absolute path inside the videos root. rel may contain at most one
// directory level (the CMAF quality subdirectory).
func (s *Store) ServePath(slug, rel string) (string, error) {
	if !models.ValidSlug(slug) {
		return "", ErrUnsafePath
	}
	parts := strings.Split(rel, "/")
	if len(parts) > 2 {
		return "", ErrUnsafePath
	}
	if len(parts) == 2 {
		if !models.ValidQuality(models.Quality(parts[0])) || !ValidFilename(parts[1]) {
			return "", ErrUnsafePath
		}
		return resolve(s.cfg.VideosDir, slug, parts[0], parts[1])
	}
	if !ValidFilename(parts[0]) {
		return "", ErrUnsafePath
	}
	return resolve(s.cfg.VideosDir, slug, parts[0])
}

// FileSHA256 hashes a stored segment or playlist. Quality "" targets the
// video root, where the master playlist lives.
func (s *Store) FileSHA256(slug string, format models.StreamingFormat, quality models.Quality, filename string) (string, error) {
	var path string
	var err error
	if quality == "" {
		if !models.ValidSlug(slug) || !ValidFilename(filename) {
			return "", ErrUnsafePath
		}
		path, err = resolve(s.cfg.VideosDir, slug, filename)
	} else {
		path, err = s.segmentPath(slug, format, quality, filename)
	}
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening stored file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing stored file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HasMasterPlaylist reports whether a video's master playlist exists.
func (s *Store) HasMasterPlaylist(slug string) bool {
	path, err := resolve(s.cfg.VideosDir, slug, "master.m3u8")
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// RemoveVideo deletes the whole output directory of a video.
func (s *Store) RemoveVideo(slug string) error {
	if !models.ValidSlug(slug) {
		return ErrUnsafePath
	}
	path, err := resolve(s.cfg.VideosDir, slug)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing video output: %w", err)
	}
	return nil
}

// probe checks that the videos root is writable.
func (s *Store) probe() error {
	f, err := os.CreateTemp(s.cfg.VideosDir, ".health-*")
	if err != nil {
		return fmt.Errorf("storage not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Healthy reports storage availability. Results are cached and concurrent
// callers share one probe.
func (s *Store) Healthy() error {
	return s.health.check()
}
