package pipeline

import (
	"fmt"
	"strings"

	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/models"
)

// MasterPlaylist renders the top-level HLS playlist referencing every
// encoded variant. CMAF variants live in per-quality directories; HLS-TS
// playlists sit flat next to the master.
func MasterPlaylist(variants []VariantPlan, format models.StreamingFormat) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		// Peak bandwidth includes audio plus mux overhead.
		bandwidth := (v.VideoBitrateKbps + v.AudioBitrateKbps) * 1000 * 11 / 10
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", bandwidth, v.Width, v.Height)
		b.WriteString(variantPlaylistPath(format, v.Quality))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// variantPlaylistPath is the master-relative location of a variant playlist.
func variantPlaylistPath(format models.StreamingFormat, quality models.Quality) string {
	name := coordinator.VariantPlaylistName(format, quality)
	if format == models.FormatCMAF {
		return string(quality) + "/" + name
	}
	return name
}
