package agent

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vlogmedia/vlog/internal/models"
)

// DetectCapabilities probes the host and the FFmpeg binary to build the
// capability record reported at registration and on heartbeats.
func DetectCapabilities(ctx context.Context, ffmpegPath, hwaccel string) models.Capabilities {
	caps := models.Capabilities{
		HWAccel:          hwaccel,
		Codecs:           []string{string(models.CodecH264)},
		MaxHeight:        2160,
		SupportsCMAF:     true,
		SupportsOriginal: true,
	}

	// Hardware encoders bring HEVC along on both QSV and NVENC.
	if hwaccel == "qsv" || hwaccel == "nvenc" {
		caps.Codecs = append(caps.Codecs, string(models.CodecHEVC))
	}

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		caps.CPUCores = counts
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		caps.MemoryMB = int(vm.Total / (1024 * 1024))
	}
	caps.FFmpegVersion = ffmpegVersion(ctx, ffmpegPath)

	return caps
}

// ffmpegVersion extracts the version token from `ffmpeg -version`. An
// unusable binary yields an empty string; registration still proceeds.
func ffmpegVersion(ctx context.Context, ffmpegPath string) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, ffmpegPath, "-version").Output()
	if err != nil {
		return ""
	}
	// First line: "ffmpeg version 6.1.1 Copyright ...".
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return ""
}
