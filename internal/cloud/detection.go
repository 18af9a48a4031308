package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

// Detect asks the backend to sample and analyse videoID from startTime on.
// Detected times in the result are relative to startTime.
func (c *HTTPClient) Detect(ctx context.Context, videoID string, startTime float64) (*DetectionResult, error) {
	form := url.Values{}
	form.Set("video_file", videoID)
	form.Set("start_time", segments.FormatClock(startTime))

	req, err := c.newRequest(ctx, http.MethodPost, "/extract_frames", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Info("requesting detection", "video_id", videoID, "start_time", segments.FormatClock(startTime))

	var result DetectionResult
	if err := c.do(req, "detection", &result); err != nil {
		return nil, err
	}

	c.logger.Info("detection finished",
		"video_id", videoID,
		"frames", len(result.Frames),
		"detected_times", len(result.DetectedTimes),
	)
	return &result, nil
}

// Finalize submits the confirmed intervals and returns the artifact references.
func (c *HTTPClient) Finalize(ctx context.Context, videoID string, intervals []segments.Interval) (*FinalizeResult, error) {
	body, err := json.Marshal(finalizeRequest{VideoFile: videoID, Intervals: intervals})
	if err != nil {
		return nil, fmt.Errorf("marshal finalize request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/finalize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("finalizing review", "video_id", videoID, "intervals", len(intervals))

	var result FinalizeResult
	if err := c.do(req, "finalize", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadClip streams the clip [start, end) of videoID into w and returns
// the number of bytes written.
func (c *HTTPClient) DownloadClip(ctx context.Context, videoID string, start, end float64, w io.Writer) (int64, error) {
	q := url.Values{}
	q.Set("video_file", videoID)
	q.Set("start", strconv.FormatFloat(start, 'f', 2, 64))
	q.Set("end", strconv.FormatFloat(end, 'f', 2, 64))

	req, err := c.newRequest(ctx, http.MethodGet, "/download_clip?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download clip: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, apiError("download clip", resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download clip: %w", err)
	}
	return n, nil
}
