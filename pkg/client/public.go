package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxStreamFileBytes bounds a single fetched stream file. Playlists are tiny
// and segments are bounded by the coordinator's upload limit.
const maxStreamFileBytes = 512 << 20

// GetStreamFile fetches one published file from a video's streaming tree,
// e.g. "master.m3u8" or "720p/0001.m4s". No authentication is required; the
// streaming surface is public.
func (c *Client) GetStreamFile(ctx context.Context, slug, rel string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/videos/"+slug+"/"+rel, nil, authNone)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStreamFileBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}
