package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telemirror/pkg/telegram/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// GatewayClient talks to a local Telegram gateway daemon that owns the
// protocol session. All calls are plain JSON over HTTP except the live
// event stream, which is a websocket.
type GatewayClient struct {
	baseURL   string
	eventsURL string
	apiKey    string
	client    *http.Client
	logger    *logrus.Logger
}

type apiError struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		RetryAfterSec int    `json:"retry_after_sec,omitempty"`
		SourceID      int64  `json:"source_id,omitempty"`
	} `json:"error"`
}

// NewClient creates a gateway client. A nil httpClient gets a default
// with a generous timeout; history calls can be slow on large sources.
func NewClient(baseURL, eventsURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) types.Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &GatewayClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		eventsURL: eventsURL,
		apiKey:    apiKey,
		client:    httpClient,
		logger:    logger,
	}
}

func (c *GatewayClient) ResolveEntity(ctx context.Context, shape types.PeerShape) (*types.Handle, error) {
	body, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal peer shape: %w", err)
	}

	var handle types.Handle
	if err := c.do(ctx, http.MethodPost, "/v1/entities/resolve", bytes.NewReader(body), &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

func (c *GatewayClient) EnumerateDialogs(ctx context.Context) ([]types.Dialog, error) {
	var resp struct {
		Dialogs []types.Dialog `json:"dialogs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/dialogs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dialogs, nil
}

func (c *GatewayClient) FetchHistory(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
	path := fmt.Sprintf("/v1/sources/%d/history?access_hash=%d&since=%s&offset_id=%d&limit=%d",
		handle.SourceID, handle.AccessHash, since.UTC().Format(time.RFC3339), offsetID, limit)

	var resp struct {
		Messages []types.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *GatewayClient) Subscribe(ctx context.Context) (types.EventStream, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{},
	}
	if c.apiKey != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, c.eventsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	// Historical sweeps can outpace the default 32 KiB cap on busy sources.
	conn.SetReadLimit(1 << 20)

	c.logger.WithField("url", c.eventsURL).Debug("Event stream connected")
	return &wsEventStream{conn: conn}, nil
}

func (c *GatewayClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// do issues one gateway request and decodes the response into out (when
// non-nil). Upstream failure classes are mapped onto typed errors here so
// nothing above this layer inspects HTTP status codes.
func (c *GatewayClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func (c *GatewayClient) decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil {
		switch apiErr.Error.Code {
		case "flood_wait", "rate_limited":
			return &types.RateLimitError{RetryAfter: time.Duration(apiErr.Error.RetryAfterSec) * time.Second}
		case "entity_invalid", "channel_private", "peer_id_invalid":
			return &types.EntityInvalidError{SourceID: apiErr.Error.SourceID}
		}
		if apiErr.Error.Message != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &types.RateLimitError{RetryAfter: time.Minute}
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

type wsEventStream struct {
	conn *websocket.Conn
}

func (s *wsEventStream) Next(ctx context.Context) (*types.Event, error) {
	var event types.Event
	if err := wsjson.Read(ctx, s.conn, &event); err != nil {
		return nil, fmt.Errorf("event stream read failed: %w", err)
	}
	return &event, nil
}

func (s *wsEventStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "shutting down")
}
