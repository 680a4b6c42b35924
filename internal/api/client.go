package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// APIPrefix is prepended to every request path under the configured server
// base URL.
const APIPrefix = "/api/v1"

const (
	// MaxPostSize is the largest request body the most constrained console
	// target can POST (448 KiB, leaving headroom in its 512 KiB HTTP
	// buffer). The client enforces the same ceiling everywhere so a bundle
	// that syncs from one console family syncs from all of them.
	MaxPostSize = 0x70000

	// maxResponseSize bounds response buffering; save bundles are far
	// smaller than this.
	maxResponseSize = 2 * 1024 * 1024

	// interRequestDelay gives the host HTTP stack time to release the
	// previous connection's resources before the next request.
	interRequestDelay = 50 * time.Millisecond
)

// Client is an HTTP client for the sync server. All requests carry the API
// key, console ID, and user-agent headers and close their connection when
// done. The client performs no retries; transient failures surface to the
// caller.
type Client struct {
	baseURL    string
	apiKey     string
	consoleID  string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc implements the inter-request pause. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the server at baseURL (scheme + host, no
// path). The version string feeds the User-Agent header.
func NewClient(baseURL, apiKey, consoleID, version string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		consoleID:  consoleID,
		userAgent:  "savesync/" + version,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do executes one request and returns the response body. Transport failures
// wrap ErrNetwork; non-2xx statuses return an *APIError wrapping the
// matching sentinel.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	if len(body) > MaxPostSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d-byte ceiling", ErrTooLarge, len(body), MaxPostSize)
	}

	if err := c.sleepFunc(ctx, interRequestDelay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	url := c.baseURL + APIPrefix + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Console-ID", c.consoleID)
	req.Header.Set("Connection", "close")
	req.Close = true

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("api request", "method", method, "path", path, "body_bytes", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if len(respBody) > maxResponseSize {
		return nil, ErrResponseTooLarge
	}

	c.logger.Debug("api response",
		"method", method, "path", path,
		"status", resp.StatusCode, "bytes", len(respBody))

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    snippet(respBody),
			Err:        sentinel,
		}
	}

	return respBody, nil
}

// snippet trims a response body to a short printable message.
func snippet(body []byte) string {
	const maxLen = 200

	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen] + "…"
	}

	return s
}

// GetSave fetches the current bundle bytes for a title.
func (c *Client) GetSave(ctx context.Context, titleIDHex string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/saves/"+titleIDHex, "", nil)
}

// PutSave uploads bundle bytes for a title.
func (c *Client) PutSave(ctx context.Context, titleIDHex string, bundleBytes []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/saves/"+titleIDHex,
		"application/octet-stream", bundleBytes)

	return err
}

// SaveMeta describes the server's current copy of a title's save.
type SaveMeta struct {
	SaveHash  string `json:"save_hash"`
	SaveSize  int64  `json:"save_size"`
	FileCount int    `json:"file_count"`
	LastSync  string `json:"last_sync"`
	ConsoleID string `json:"console_id"`
}

// GetSaveMeta fetches server-side metadata for a title without transferring
// the bundle.
func (c *Client) GetSaveMeta(ctx context.Context, titleIDHex string) (*SaveMeta, error) {
	body, err := c.do(ctx, http.MethodGet, "/saves/"+titleIDHex+"/meta", "", nil)
	if err != nil {
		return nil, err
	}

	var meta SaveMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("api: parsing save meta: %w", err)
	}

	return &meta, nil
}

// HistoryVersion is one archived server-side version of a title's save.
type HistoryVersion struct {
	Timestamp int64 `json:"timestamp"`
	Size      int64 `json:"size"`
	FileCount int   `json:"file_count"`
}

// History lists a title's archived versions, newest first as the server
// returns them.
type History struct {
	Versions []HistoryVersion `json:"versions"`
}

// GetHistory lists the archived versions of a title's save.
func (c *Client) GetHistory(ctx context.Context, titleIDHex string) (*History, error) {
	body, err := c.do(ctx, http.MethodGet, "/saves/"+titleIDHex+"/history", "", nil)
	if err != nil {
		return nil, err
	}

	var h History
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("api: parsing history: %w", err)
	}

	return &h, nil
}

// GetHistoryVersion fetches the bundle bytes of one archived version.
func (c *Client) GetHistoryVersion(ctx context.Context, titleIDHex string, timestamp int64) ([]byte, error) {
	return c.do(ctx, http.MethodGet,
		fmt.Sprintf("/saves/%s/history/%d", titleIDHex, timestamp), "", nil)
}

// TitleMeta is the per-title record in a batch sync request.
type TitleMeta struct {
	TitleID        string `json:"title_id"`
	SaveHash       string `json:"save_hash"`
	Timestamp      int64  `json:"timestamp"`
	Size           int64  `json:"size"`
	LastSyncedHash string `json:"last_synced_hash,omitempty"`
}

// SyncRequest is the metadata document POSTed to /sync.
type SyncRequest struct {
	ConsoleID string      `json:"console_id"`
	Titles    []TitleMeta `json:"titles"`
}

// SyncPlan partitions the requested titles by the action the server
// determined. Each list holds hex title IDs.
type SyncPlan struct {
	Upload     []string `json:"upload"`
	Download   []string `json:"download"`
	ServerOnly []string `json:"server_only"`
	Conflict   []string `json:"conflict"`
	UpToDate   []string `json:"up_to_date"`
}

// PostSync submits batch metadata and returns the server's sync plan.
func (c *Client) PostSync(ctx context.Context, req *SyncRequest) (*SyncPlan, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("api: encoding sync request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/sync", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var plan SyncPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		return nil, fmt.Errorf("api: parsing sync plan: %w", err)
	}

	return &plan, nil
}

// PostTitleNames resolves product codes to display names. Unknown codes are
// simply absent from the result.
func (c *Client) PostTitleNames(ctx context.Context, codes []string) (map[string]string, error) {
	payload, err := json.Marshal(map[string][]string{"codes": codes})
	if err != nil {
		return nil, fmt.Errorf("api: encoding names request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/titles/names", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Names map[string]string `json:"names"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("api: parsing names response: %w", err)
	}

	return resp.Names, nil
}
