package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/pkg/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a source video and queue its transcoding",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog videos",
	RunE:  runList,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories with video counts",
	RunE:  runCategories,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a video and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var downloadCmd = &cobra.Command{
	Use:   "download <slug>",
	Short: "Mirror a video's published playlists and segments to a local directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	uploadCmd.Flags().String("title", "", "video title (defaults to the file name)")
	uploadCmd.Flags().String("slug", "", "URL slug (defaults to a slugified title)")
	uploadCmd.Flags().String("description", "", "video description")
	uploadCmd.Flags().String("category", "", "category name")
	uploadCmd.Flags().String("format", "hls_ts", "streaming format (hls_ts, cmaf)")
	uploadCmd.Flags().String("codec", "h264", "primary codec (h264, hevc, av1)")

	listCmd.Flags().String("category", "", "filter by category")
	listCmd.Flags().Int("limit", 50, "page size")
	listCmd.Flags().Int("offset", 0, "page offset")

	downloadCmd.Flags().StringP("output", "o", "", "destination directory (defaults to the slug)")

	rootCmd.AddCommand(uploadCmd, listCmd, categoriesCmd, deleteCmd, downloadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	sourcePath := args[0]
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	title, _ := cmd.Flags().GetString("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	}
	slug, _ := cmd.Flags().GetString("slug")
	if slug == "" {
		slug = slugify(title)
	}
	description, _ := cmd.Flags().GetString("description")
	category, _ := cmd.Flags().GetString("category")
	format, _ := cmd.Flags().GetString("format")
	codec, _ := cmd.Flags().GetString("codec")

	video, err := c.UploadVideo(cmd.Context(), client.UploadVideoRequest{
		Title:       title,
		Slug:        slug,
		Description: description,
		Category:    category,
		Format:      format,
		Codec:       codec,
		Filename:    filepath.Base(sourcePath),
	}, f)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded %s (slug %s, status %s)\n", video.Title, video.Slug, video.Status)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	list, err := c.ListVideos(cmd.Context(), category, offset, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tTITLE\tCATEGORY\tSTATUS\tDURATION\tCREATED")
	for _, v := range list.Videos {
		duration := "-"
		if v.DurationSeconds > 0 {
			duration = (time.Duration(v.DurationSeconds) * time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Slug, v.Title, v.Category, v.Status, duration,
			v.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d videos\n", len(list.Videos), list.Total)
	return nil
}

func runCategories(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	categories, err := c.ListCategories(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tVIDEOS")
	for _, cat := range categories {
		fmt.Fprintf(w, "%s\t%d\n", cat.Category, cat.Count)
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	slug := args[0]
	if err := c.DeleteVideo(cmd.Context(), slug); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", slug)
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	slug := args[0]
	destDir, _ := cmd.Flags().GetString("output")
	if destDir == "" {
		destDir = slug
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	master, err := c.GetStreamFile(cmd.Context(), slug, "master.m3u8")
	if err != nil {
		return fmt.Errorf("fetching master playlist: %w", err)
	}
	if err := writeStreamFile(destDir, "master.m3u8", master); err != nil {
		return err
	}

	files := 1
	for _, variantRel := range playlistEntries(string(master)) {
		playlist, err := c.GetStreamFile(cmd.Context(), slug, variantRel)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", variantRel, err)
		}
		if err := writeStreamFile(destDir, variantRel, playlist); err != nil {
			return err
		}
		files++

		base := path.Dir(variantRel)
		for _, segRel := range playlistEntries(string(playlist)) {
			if base != "." {
				segRel = path.Join(base, segRel)
			}
			segment, err := c.GetStreamFile(cmd.Context(), slug, segRel)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", segRel, err)
			}
			if err := writeStreamFile(destDir, segRel, segment); err != nil {
				return err
			}
			files++
		}
	}

	fmt.Printf("downloaded %d files to %s\n", files, destDir)
	return nil
}

// playlistEntries returns the non-comment lines of an M3U8 playlist, which
// are the referenced file paths. CMAF init segments appear as an EXT-X-MAP
// URI attribute, not a plain line, so those are extracted too.
func playlistEntries(playlist string) []string {
	var entries []string
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if uri, ok := mapURI(line); ok {
			entries = append(entries, uri)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries
}

// mapURI extracts the URI from an #EXT-X-MAP tag line.
func mapURI(line string) (string, bool) {
	if !strings.HasPrefix(line, "#EXT-X-MAP:") {
		return "", false
	}
	for _, attr := range strings.Split(strings.TrimPrefix(line, "#EXT-X-MAP:"), ",") {
		if v, ok := strings.CutPrefix(attr, "URI="); ok {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}

// writeStreamFile writes one mirrored file under destDir, refusing path
// escapes from a hostile playlist.
func writeStreamFile(destDir, rel string, data []byte) error {
	clean := path.Clean(rel)
	if strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
		return fmt.Errorf("refusing playlist path %q", rel)
	}
	full := filepath.Join(destDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", full, err)
	}
	return nil
}

// slugify lowercases a title into a URL-safe slug.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
