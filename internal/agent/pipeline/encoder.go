package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/models"
)

// stderrTailBytes is how much FFmpeg stderr is kept for error reporting.
const stderrTailBytes = 4096

// Encoder drives the FFmpeg binary to produce one HLS variant at a time.
// FFmpeg is treated as a black box: the pipeline hands it a source and a
// segment naming convention and watches the output directory.
type Encoder struct {
	ffmpegPath     string
	hwaccel        string
	segmentSeconds int
	logger         *slog.Logger
}

// NewEncoder creates an Encoder. hwaccel is one of none, qsv, nvenc.
func NewEncoder(ffmpegPath, hwaccel string, segmentSeconds int, log *slog.Logger) *Encoder {
	if log == nil {
		log = slog.Default()
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}
	return &Encoder{
		ffmpegPath:     ffmpegPath,
		hwaccel:        hwaccel,
		segmentSeconds: segmentSeconds,
		logger:         log.With(slog.String("component", "encoder")),
	}
}

// videoCodecArg maps the target codec onto an encoder for the configured
// hardware acceleration.
func (e *Encoder) videoCodecArg(codec models.Codec) string {
	switch e.hwaccel {
	case "qsv":
		if codec == models.CodecHEVC {
			return "hevc_qsv"
		}
		return "h264_qsv"
	case "nvenc":
		if codec == models.CodecHEVC {
			return "hevc_nvenc"
		}
		return "h264_nvenc"
	default:
		if codec == models.CodecHEVC {
			return "libx265"
		}
		if codec == models.CodecAV1 {
			return "libsvtav1"
		}
		return "libx264"
	}
}

// VariantArgs builds the FFmpeg argument list for one variant. The segment
// and playlist names follow the coordinator's conventions so finalization
// can verify completeness by index.
func (e *Encoder) VariantArgs(sourcePath, outDir string, plan VariantPlan, format models.StreamingFormat, codec models.Codec) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", sourcePath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=-2:%d", plan.Height),
		"-c:v", e.videoCodecArg(codec),
		"-b:v", strconv.Itoa(plan.VideoBitrateKbps) + "k",
		"-maxrate", strconv.Itoa(plan.VideoBitrateKbps*11/10) + "k",
		"-bufsize", strconv.Itoa(plan.VideoBitrateKbps*2) + "k",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(plan.AudioBitrateKbps) + "k",
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
	}

	if format == models.FormatCMAF {
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", "init.mp4",
			"-hls_segment_filename", filepath.Join(outDir, "%04d.m4s"),
			filepath.Join(outDir, coordinator.VariantPlaylistName(format, plan.Quality)),
		)
	} else {
		args = append(args,
			"-hls_segment_filename", filepath.Join(outDir, string(plan.Quality)+"_%04d.ts"),
			filepath.Join(outDir, coordinator.VariantPlaylistName(format, plan.Quality)),
		)
	}
	return args
}

// EncodeVariant runs FFmpeg for one variant until it finishes or ctx ends.
// The returned error carries the tail of FFmpeg's stderr.
func (e *Encoder) EncodeVariant(ctx context.Context, sourcePath, outDir string, plan VariantPlan, format models.StreamingFormat, codec models.Codec) error {
	args := e.VariantArgs(sourcePath, outDir, plan, format, codec)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = &stderr

	e.logger.Debug("encoding variant",
		slog.String("quality", string(plan.Quality)),
		slog.Int("height", plan.Height),
		slog.String("encoder", e.videoCodecArg(codec)),
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > stderrTailBytes {
			tail = tail[len(tail)-stderrTailBytes:]
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", plan.Quality, err, strings.TrimSpace(tail))
	}

	e.logger.Info("variant encoded",
		slog.String("quality", string(plan.Quality)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
