package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

// InitSession opens a server-side upload session for a file.
func (c *HTTPClient) InitSession(ctx context.Context, filename string, totalSize int64) (upload.SessionHandle, error) {
	body, err := json.Marshal(initSessionRequest{Filename: filename, TotalSize: totalSize})
	if err != nil {
		return upload.SessionHandle{}, fmt.Errorf("marshal init request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/init", bytes.NewReader(body))
	if err != nil {
		return upload.SessionHandle{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp initSessionResponse
	if err := c.do(req, "upload init", &resp); err != nil {
		return upload.SessionHandle{}, err
	}
	if resp.SessionID == "" {
		return upload.SessionHandle{}, fmt.Errorf("upload init: empty session_id")
	}

	c.logger.Info("upload session opened",
		"session_id", string(resp.SessionID),
		"filename", filename,
		"total_size", totalSize,
	)

	return upload.SessionHandle{
		SessionID:    string(resp.SessionID),
		UploadedSize: resp.UploadedSize,
		TotalSize:    totalSize,
	}, nil
}

// SendChunk posts one chunk as multipart form data (session_id, offset, chunk).
func (c *HTTPClient) SendChunk(ctx context.Context, sessionID string, chunk upload.Chunk, totalSize int64, data []byte) (upload.ChunkAck, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + 512)
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("session_id", sessionID); err != nil {
		return upload.ChunkAck{}, fmt.Errorf("encode chunk form: %w", err)
	}
	if err := mw.WriteField("offset", strconv.FormatInt(chunk.Offset, 10)); err != nil {
		return upload.ChunkAck{}, fmt.Errorf("encode chunk form: %w", err)
	}
	part, err := mw.CreateFormFile("chunk", "blob")
	if err != nil {
		return upload.ChunkAck{}, fmt.Errorf("encode chunk form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return upload.ChunkAck{}, fmt.Errorf("encode chunk form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return upload.ChunkAck{}, fmt.Errorf("encode chunk form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/chunk", &buf)
	if err != nil {
		return upload.ChunkAck{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Content-Range", chunk.ContentRange(totalSize))

	var resp chunkResponse
	if err := c.do(req, "upload chunk", &resp); err != nil {
		return upload.ChunkAck{}, err
	}

	c.logger.Debug("chunk acknowledged",
		"session_id", sessionID,
		"offset", chunk.Offset,
		"uploaded_size", resp.UploadedSize,
	)
	return upload.ChunkAck{UploadedSize: resp.UploadedSize, Progress: resp.Progress}, nil
}
