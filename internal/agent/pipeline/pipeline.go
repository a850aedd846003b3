package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/pkg/client"
)

// progressInterval is how often the pipeline reports progress while a
// variant encodes. Each report extends the claim lease, so this must stay
// well inside the coordinator's lease window.
const progressInterval = 15 * time.Second

// masterPlaylistName is the filename of the top-level playlist.
const masterPlaylistName = "master.m3u8"

// Pipeline runs claimed jobs end to end on a worker host.
type Pipeline struct {
	client  *client.Client
	cfg     config.WorkerConfig
	caps    models.Capabilities
	encoder *Encoder
	prober  *Prober
	logger  *slog.Logger

	mu       sync.Mutex
	watchers []*Watcher
}

// New creates a Pipeline.
func New(c *client.Client, cfg config.WorkerConfig, caps models.Capabilities, segmentSeconds int, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		client:  c,
		cfg:     cfg,
		caps:    caps,
		encoder: NewEncoder(cfg.FFmpegPath, cfg.HWAccel, segmentSeconds, log),
		prober:  NewProber(cfg.FFprobePath),
		logger:  log.With(slog.String("component", "pipeline")),
	}
}

// FlushRemaining forces every active watcher to enqueue what it has,
// skipping the stability wait.
func (p *Pipeline) FlushRemaining() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.watchers {
		w.Flush()
	}
}

// trackWatcher registers a watcher for FlushRemaining and returns an
// untrack function.
func (p *Pipeline) trackWatcher(w *Watcher) func() {
	p.mu.Lock()
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, tracked := range p.watchers {
			if tracked == w {
				p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
				return
			}
		}
	}
}

// Run executes one claimed job: download, probe, encode the ladder, upload
// playlists, finalize each variant, and report completion. Failures are
// reported to the coordinator before returning.
func (p *Pipeline) Run(ctx context.Context, claimed *coordinator.ClaimedJob) error {
	job := claimed.Job
	video := claimed.Video

	workDir := filepath.Join(p.cfg.WorkDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return p.fail(ctx, job.ID, fmt.Sprintf("creating work directory: %v", err), true)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, "source")
	if err := p.reportProgress(ctx, job.ID, "downloading", 2, nil); err != nil {
		return err
	}
	if err := p.client.DownloadSource(ctx, video.ID, sourcePath); err != nil {
		return p.fail(ctx, job.ID, fmt.Sprintf("downloading source: %v", err), true)
	}

	info, err := p.prober.Probe(ctx, sourcePath)
	if err != nil {
		// A source ffprobe cannot read will not improve on retry.
		return p.fail(ctx, job.ID, fmt.Sprintf("probing source: %v", err), false)
	}

	plans := PlanLadder(info.Height, p.caps)
	codec := video.PrimaryCodec
	if !p.caps.CanEncode(codec) {
		p.logger.Warn("requested codec unsupported, falling back to h264",
			slog.String("requested", string(codec)),
		)
		codec = models.CodecH264
	}
	p.logger.Info("ladder planned",
		slog.String("video_slug", video.Slug),
		slog.Int("source_height", info.Height),
		slog.Int("variants", len(plans)),
		slog.String("codec", string(codec)),
	)

	var (
		results    []coordinator.QualityUpdate
		successful []VariantPlan
	)
	for i, plan := range plans {
		base := 5 + float64(i)*90/float64(len(plans))
		if err := p.reportProgress(ctx, job.ID, "encoding "+string(plan.Quality), base, results); err != nil {
			return err
		}

		update, err := p.runVariant(ctx, job.ID, video, plan, sourcePath, workDir, codec, base)
		if err != nil {
			if client.IsClaimLost(err) || ctx.Err() != nil {
				return err
			}
			p.logger.Error("variant failed",
				slog.String("quality", string(plan.Quality)),
				slog.String("error", err.Error()),
			)
			results = append(results, coordinator.QualityUpdate{
				Quality: plan.Quality,
				Status:  models.QualityFailed,
			})
			continue
		}
		results = append(results, *update)
		successful = append(successful, plan)
	}

	if len(successful) == 0 {
		return p.fail(ctx, job.ID, "all variants failed to encode", true)
	}

	master := MasterPlaylist(successful, video.StreamingFormat)
	if err := p.client.UploadPlaylist(ctx, video.ID, "", masterPlaylistName, master); err != nil {
		if client.IsClaimLost(err) {
			return err
		}
		return p.fail(ctx, job.ID, fmt.Sprintf("uploading master playlist: %v", err), true)
	}

	media := coordinator.MediaInfo{
		DurationSeconds: info.DurationSeconds,
		Width:           info.Width,
		Height:          info.Height,
	}
	if err := p.client.Complete(ctx, job.ID, results, media); err != nil {
		return fmt.Errorf("reporting completion: %w", err)
	}
	return nil
}

// runVariant encodes one quality rung, uploads its segments as they appear,
// then uploads and finalizes the variant playlist.
func (p *Pipeline) runVariant(ctx context.Context, jobID models.ULID, video *models.Video, plan VariantPlan, sourcePath, workDir string, codec models.Codec, basePercent float64) (*coordinator.QualityUpdate, error) {
	outDir := filepath.Join(workDir, "out", string(plan.Quality))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating variant directory: %w", err)
	}

	watcher := NewWatcher(outDir, segmentMatcher(video.StreamingFormat, plan.Quality), p.cfg.SegmentQueueSize, p.logger)
	untrack := p.trackWatcher(watcher)
	defer untrack()

	uploader := NewUploader(p.client, video.ID, plan.Quality, p.cfg.SegmentRetries, p.logger)

	var segmentsDone, bytesUploaded atomic.Int64
	uploader.OnProgress = func(completed int, bytes int64) {
		segmentsDone.Store(int64(completed))
		bytesUploaded.Store(bytes)
	}
	snapshot := func() coordinator.QualityUpdate {
		completed := int(segmentsDone.Load())
		status := models.QualityInProgress
		if completed > 0 {
			status = models.QualityUploading
		}
		return coordinator.QualityUpdate{
			Quality:           plan.Quality,
			Status:            status,
			ProgressPercent:   basePercent,
			SegmentsCompleted: completed,
		}
	}

	encodeCtx, cancelEncode := context.WithCancel(ctx)
	defer cancelEncode()

	// The watcher and the pipeline each need the encoder's exit error; both
	// channels are buffered so the encoder goroutine never blocks.
	encodeDone := make(chan error, 1)
	encodeErr := make(chan error, 1)
	go func() {
		err := p.encoder.EncodeVariant(encodeCtx, sourcePath, outDir, plan, video.StreamingFormat, codec)
		encodeDone <- err
		encodeErr <- err
	}()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Run(encodeCtx, encodeDone)
	}()

	// Progress reports double as lease heartbeats while FFmpeg runs.
	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	progressFailed := make(chan error, 1)
	go p.progressLoop(progressCtx, jobID, plan.Quality, snapshot, progressFailed)

	uploaded, shipped, upErr := uploader.Run(ctx, watcher.Segments())
	if upErr != nil {
		// Stop FFmpeg and the watcher; nothing else will be consumed.
		cancelEncode()
	}
	encErr := <-encodeErr
	wErr := <-watchErr
	stopProgress()

	select {
	case perr := <-progressFailed:
		return nil, perr
	default:
	}
	if upErr != nil {
		return nil, upErr
	}
	if encErr != nil {
		return nil, encErr
	}
	if wErr != nil && !errors.Is(wErr, context.Canceled) {
		return nil, wErr
	}

	p.logger.Info("variant uploaded",
		slog.String("quality", string(plan.Quality)),
		slog.Int("segments", uploaded),
		slog.Int64("bytes", shipped),
	)
	return p.finalizeVariant(ctx, video, plan, outDir)
}

// finalizeVariant uploads the variant playlist and asks the coordinator to
// verify completeness, re-sending any segments it reports missing.
func (p *Pipeline) finalizeVariant(ctx context.Context, video *models.Video, plan VariantPlan, outDir string) (*coordinator.QualityUpdate, error) {
	playlistName := coordinator.VariantPlaylistName(video.StreamingFormat, plan.Quality)
	playlist, err := os.ReadFile(filepath.Join(outDir, playlistName))
	if err != nil {
		return nil, fmt.Errorf("reading variant playlist: %w", err)
	}
	sum := sha256.Sum256(playlist)
	manifestSHA := hex.EncodeToString(sum[:])

	if err := p.client.UploadPlaylist(ctx, video.ID, plan.Quality, playlistName, playlist); err != nil {
		return nil, err
	}

	segmentCount, err := countMediaSegments(outDir, video.StreamingFormat, plan.Quality)
	if err != nil {
		return nil, err
	}

	result, err := p.client.Finalize(ctx, video.ID, plan.Quality, segmentCount, manifestSHA)
	if err != nil {
		return nil, err
	}

	if !result.Complete && len(result.MissingSegments) > 0 {
		p.logger.Warn("finalize reported missing segments, re-uploading",
			slog.String("quality", string(plan.Quality)),
			slog.Int("missing", len(result.MissingSegments)),
		)
		reuploader := NewUploader(p.client, video.ID, plan.Quality, p.cfg.SegmentRetries, p.logger)
		for _, name := range result.MissingSegments {
			if err := reuploader.UploadFile(ctx, filepath.Join(outDir, name), name); err != nil {
				return nil, err
			}
		}
		result, err = p.client.Finalize(ctx, video.ID, plan.Quality, segmentCount, manifestSHA)
		if err != nil {
			return nil, err
		}
	}
	if !result.Complete {
		return nil, fmt.Errorf("variant %s did not finalize cleanly", plan.Quality)
	}

	// Every segment is verified on the coordinator's side; the local copies
	// are no longer needed.
	if err := os.RemoveAll(outDir); err != nil {
		p.logger.Debug("variant output not removed", slog.String("error", err.Error()))
	}

	return &coordinator.QualityUpdate{
		Quality:           plan.Quality,
		Status:            models.QualityCompleted,
		ProgressPercent:   100,
		SegmentsTotal:     segmentCount,
		SegmentsCompleted: segmentCount,
	}, nil
}

// progressLoop reports liveness to the coordinator while a variant encodes,
// carrying the variant's live upload counters in each report. A lost claim
// surfaces on failed so the variant can abort early.
func (p *Pipeline) progressLoop(ctx context.Context, jobID models.ULID, quality models.Quality, snapshot func() coordinator.QualityUpdate, failed chan<- error) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update := snapshot()
			err := p.client.ReportProgress(ctx, jobID, "encoding "+string(quality), update.ProgressPercent,
				[]coordinator.QualityUpdate{update})
			if client.IsClaimLost(err) {
				failed <- err
				return
			}
			if err != nil {
				p.logger.Debug("progress report failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reportProgress sends a coarse progress update outside the encode loop.
func (p *Pipeline) reportProgress(ctx context.Context, jobID models.ULID, step string, percent float64, qualities []coordinator.QualityUpdate) error {
	err := p.client.ReportProgress(ctx, jobID, step, percent, qualities)
	if client.IsClaimLost(err) {
		return err
	}
	if err != nil {
		p.logger.Debug("progress report failed", slog.String("error", err.Error()))
	}
	return nil
}

// fail reports a job failure to the coordinator and returns an error
// carrying the same message.
func (p *Pipeline) fail(ctx context.Context, jobID models.ULID, message string, retry bool) error {
	if err := p.client.Fail(ctx, jobID, message, retry); err != nil {
		p.logger.Warn("failure report not delivered", slog.String("error", err.Error()))
	}
	return fmt.Errorf("%s", message)
}

// segmentMatcher selects the filenames the watcher tracks for a variant.
// CMAF includes the init segment; both formats exclude playlists.
func segmentMatcher(format models.StreamingFormat, quality models.Quality) func(string) bool {
	if format == models.FormatCMAF {
		return func(name string) bool {
			return strings.HasSuffix(name, ".m4s") || name == "init.mp4"
		}
	}
	prefix := string(quality) + "_"
	return func(name string) bool {
		return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".ts")
	}
}

// countMediaSegments counts the numbered media segments in outDir, ignoring
// the init segment and playlists.
func countMediaSegments(outDir string, format models.StreamingFormat, quality models.Quality) (int, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return 0, fmt.Errorf("listing variant output: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if format == models.FormatCMAF {
			if strings.HasSuffix(name, ".m4s") {
				count++
			}
			continue
		}
		if strings.HasPrefix(name, string(quality)+"_") && strings.HasSuffix(name, ".ts") {
			count++
		}
	}
	return count, nil
}
