package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/pkg/client"
)

// uploadRetryBase is the first retry delay; each attempt doubles it.
const uploadRetryBase = time.Second

// Uploader ships finished segments to the coordinator with checksum
// verification. Transient failures retry with backoff; a lost claim aborts
// immediately since every later upload would also be rejected.
type Uploader struct {
	client    *client.Client
	videoID   models.ULID
	quality   models.Quality
	retries   int
	retryBase time.Duration
	logger    *slog.Logger

	// OnProgress, when set, is called after every verified upload with the
	// running totals for this variant.
	OnProgress func(segmentsCompleted int, bytesUploaded int64)
}

// NewUploader creates an Uploader for one variant of one video.
func NewUploader(c *client.Client, videoID models.ULID, quality models.Quality, retries int, log *slog.Logger) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	if retries <= 0 {
		retries = 3
	}
	return &Uploader{
		client:    c,
		videoID:   videoID,
		quality:   quality,
		retries:   retries,
		retryBase: uploadRetryBase,
		logger:    log.With(slog.String("component", "uploader"), slog.String("quality", string(quality))),
	}
}

// Run consumes segments until the channel closes, returning how many were
// uploaded and how many bytes shipped. The first permanent failure stops
// the run.
func (u *Uploader) Run(ctx context.Context, segments <-chan SegmentFile) (int, int64, error) {
	uploaded := 0
	var bytes int64
	for {
		select {
		case <-ctx.Done():
			return uploaded, bytes, ctx.Err()
		case seg, ok := <-segments:
			if !ok {
				return uploaded, bytes, nil
			}
			size, err := u.uploadWithRetry(ctx, seg)
			if err != nil {
				return uploaded, bytes, err
			}
			uploaded++
			bytes += size
			if u.OnProgress != nil {
				u.OnProgress(uploaded, bytes)
			}
		}
	}
}

// uploadWithRetry sends one segment, retrying transient failures. On
// success it returns the segment's size.
func (u *Uploader) uploadWithRetry(ctx context.Context, seg SegmentFile) (int64, error) {
	delay := u.retryBase
	var lastErr error

	for attempt := 1; attempt <= u.retries; attempt++ {
		size, err := u.uploadOne(ctx, seg)
		if err == nil {
			if attempt > 1 {
				u.logger.Info("segment uploaded after retry",
					slog.String("segment", seg.Name),
					slog.Int("attempt", attempt),
				)
			}
			return size, nil
		}
		if client.IsClaimLost(err) {
			u.logger.Warn("claim lost during upload, stopping", slog.String("segment", seg.Name))
			return 0, err
		}
		lastErr = err
		u.logger.Warn("segment upload failed",
			slog.String("segment", seg.Name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt < u.retries {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return 0, fmt.Errorf("uploading %s: %w", seg.Name, lastErr)
}

// uploadOne hashes and streams a single segment, returning its size. The
// file is re-stated and re-hashed on every attempt in case it changed since
// the watcher saw it.
func (u *Uploader) uploadOne(ctx context.Context, seg SegmentFile) (int64, error) {
	f, err := os.Open(seg.Path)
	if err != nil {
		return 0, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("statting segment: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, fmt.Errorf("hashing segment: %w", err)
	}
	shaHex := hex.EncodeToString(hasher.Sum(nil))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding segment: %w", err)
	}
	if err := u.client.UploadSegment(ctx, u.videoID, u.quality, seg.Name, shaHex, info.Size(), f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// UploadFile hashes and uploads one named file outside the watcher flow,
// used for re-sending segments finalization reported missing.
func (u *Uploader) UploadFile(ctx context.Context, path, name string) error {
	_, err := u.uploadWithRetry(ctx, SegmentFile{Path: path, Name: name})
	return err
}
