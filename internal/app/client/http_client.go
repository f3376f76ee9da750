package client

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
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/domain/sync"
)

const (
	headerUserID   = "X-User-ID"
	headerShopID   = "X-Shop-ID"
	headerDeviceID = "X-Device-ID"
)

// APIError ответ сервера в формате application/problem+json.
type APIError struct {
	Status int           `json:"status"`
	Title  string        `json:"title"`
	Detail string        `json:"detail"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}

type ErrorDetail struct {
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
	Value    any    `json:"value,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, d := range e.Errors {
			if d.Location != "" {
				parts = append(parts, d.Location+": "+d.Message)
			} else {
				parts = append(parts, d.Message)
			}
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return fmt.Sprintf("server error %d: %s", e.Status, msg)
}

// PullRequest тело запроса /sync/pull.
type PullRequest struct {
	DeviceID          string            `json:"device_id,omitempty"`
	LastSyncTimestamp *time.Time        `json:"last_sync_timestamp,omitempty"`
	EntityTypes       []sync.EntityType `json:"entity_types,omitempty"`
	Limit             int               `json:"limit,omitempty"`
}

// ResolveRequest тело запроса разрешения конфликта.
type ResolveRequest struct {
	Resolution sync.Resolution `json:"resolution"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Page параметры постраничных списков.
type Page struct {
	Limit  int
	Offset int
}

type itemsResponse struct {
	Items []*sync.QueueItem `json:"items"`
	Count int               `json:"count"`
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userID    int64
	shopID    int64
	deviceID  string
	userAgent string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *httpClient {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &httpClient{
		client:    client,
		log:       log.With("component", "http_client"),
		baseURL:   cfg.BaseURL(),
		userID:    cfg.UserID,
		shopID:    cfg.ShopID,
		deviceID:  cfg.DeviceID,
		userAgent: "synctl/1.0",
	}
}

// HealthCheck проверяет доступность сервера
func (h *httpClient) HealthCheck(ctx context.Context) error {
	resp, err := h.doRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

func (h *httpClient) Push(ctx context.Context, req sync.PushRequest) (*sync.PushResult, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, "/sync/push", req)
	if err != nil {
		return nil, err
	}

	var result sync.PushResult
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *httpClient) Pull(ctx context.Context, req PullRequest) (*sync.PullResult, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, "/sync/pull", req)
	if err != nil {
		return nil, err
	}

	var result sync.PullResult
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *httpClient) Status(ctx context.Context) (*sync.StatusResult, error) {
	resp, err := h.doRequest(ctx, http.MethodGet, "/sync/status", nil)
	if err != nil {
		return nil, err
	}

	var result sync.StatusResult
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *httpClient) Pending(ctx context.Context, limit int) ([]*sync.QueueItem, error) {
	return h.listItems(ctx, "/sync/pending", pageQuery(Page{Limit: limit}))
}

func (h *httpClient) Conflicts(ctx context.Context, page Page) ([]*sync.QueueItem, error) {
	return h.listItems(ctx, "/sync/conflicts", pageQuery(page))
}

func (h *httpClient) History(ctx context.Context, status sync.Status, page Page) ([]*sync.QueueItem, error) {
	q := pageQuery(page)
	if status != "" {
		q.Set("status", string(status))
	}
	return h.listItems(ctx, "/sync/history", q)
}

func (h *httpClient) Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest) (*sync.QueueItem, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, "/sync/conflicts/"+id.String()+"/resolve", req)
	if err != nil {
		return nil, err
	}

	var item sync.QueueItem
	if err := h.parseResponse(resp, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (h *httpClient) Devices(ctx context.Context) ([]*sync.Device, error) {
	resp, err := h.doRequest(ctx, http.MethodGet, "/sync/devices", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Devices []*sync.Device `json:"devices"`
	}
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

func (h *httpClient) listItems(ctx context.Context, path string, query url.Values) ([]*sync.QueueItem, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := h.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result itemsResponse
	if err := h.parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", h.userAgent)
	if h.userID != 0 {
		req.Header.Set(headerUserID, strconv.FormatInt(h.userID, 10))
	}
	if h.shopID != 0 {
		req.Header.Set(headerShopID, strconv.FormatInt(h.shopID, 10))
	}
	if h.deviceID != "" {
		req.Header.Set(headerDeviceID, h.deviceID)
	}

	h.log.Debug("sending request", "method", method, "url", req.URL.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	return resp, nil
}

func (h *httpClient) parseResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	h.log.Debug("response received", "status", resp.StatusCode, "size", len(body))

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(body) > 0 {
			_ = json.Unmarshal(body, apiErr)
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func pageQuery(p Page) url.Values {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	return q
}
