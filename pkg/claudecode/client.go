package claudecode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
)

// LineHandler receives one stream-json line at a time. The slice is only
// valid for the duration of the call.
type LineHandler func(line []byte)

// StreamRequest is the body posted to the SDK bridge to open a stream.
type StreamRequest struct {
	Prompt    string                 `json:"prompt"`
	SessionID string                 `json:"session_id,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// Client streams responses from a Claude SDK HTTP bridge. The bridge accepts
// a prompt over POST and answers with line-delimited stream-json frames.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a streaming client for the given bridge endpoint.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		// No global timeout: the response body is a long-lived stream.
		// Cancellation comes from the request context.
		httpClient: &http.Client{Timeout: 0},
		logger:     log.WithFields(zap.String("component", "claudecode-client")),
	}
}

// Stream opens the request and feeds each complete response line to handler.
// It returns when the stream ends, the context is cancelled, or reading
// fails. Trailing bytes without a final newline are flushed as a last line.
func (c *Client) Stream(ctx context.Context, req *StreamRequest, handler LineHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream request rejected: %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	c.logger.Debug("claudecode: stream opened", zap.String("url", c.baseURL))

	scanner := bufio.NewScanner(resp.Body)
	// Allow for large JSON frames (up to 10MB)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lines := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines++
		handler(line)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream read failed: %w", err)
	}

	c.logger.Debug("claudecode: stream closed",
		zap.Int("lines", lines),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}
