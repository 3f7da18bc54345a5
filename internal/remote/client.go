// Package remote is the contract with the annotation-management server
// plus its HTTP implementation. The sync executor only ever sees the
// Store interface; tests substitute a fake.
package remote

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

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
)

// CreatedObject carries every identity the server mints for a new mask
// object: the object and figure keys for the identity map and their
// numeric ids.
type CreatedObject struct {
	ObjectKey string `json:"objectKey"`
	ObjectID  int64  `json:"objectId"`
	FigureKey string `json:"figureKey"`
	FigureID  int64  `json:"figureId"`
}

// Store is the remote annotation store. All calls are synchronous and
// sequential; RemoveObjects is the only batched round trip.
type Store interface {
	CreateObject(ctx context.Context, volumeID, classID int64, maskPayload []byte) (CreatedObject, error)
	UpdateObjectGeometry(ctx context.Context, figureKey string, maskPayload []byte) error
	RemoveObjects(ctx context.Context, objectIDs []int64) error
	ListEntities(ctx context.Context, jobID int64) ([]annotation.EntityInfo, error)
	CreateTag(ctx context.Context, volumeID, tagMetaID int64, value annotation.TagValue) (int64, error)
	RemoveTag(ctx context.Context, tagID int64) error
	SetEntityReviewStatus(ctx context.Context, jobID, entityID int64, status annotation.ReviewStatus) error
	JobStatus(ctx context.Context, jobID int64) (annotation.JobStatus, error)
	SetJobStatus(ctx context.Context, jobID int64, status annotation.JobStatus) error
	ProjectMeta(ctx context.Context, projectID int64) (*Meta, error)
}

// HTTPError is any non-2xx response that is neither a conflict nor a
// validation rejection.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) CreateObject(ctx context.Context, volumeID, classID int64, maskPayload []byte) (CreatedObject, error) {
	body := map[string]any{
		"classId": classID,
		"geometry": map[string]any{
			"type": "mask_3d",
			"data": maskPayload, // base64 on the wire
		},
	}
	var out CreatedObject
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/volumes/%d/objects", volumeID), body, &out)
	return out, err
}

func (c *HTTPClient) UpdateObjectGeometry(ctx context.Context, figureKey string, maskPayload []byte) error {
	body := map[string]any{
		"geometry": map[string]any{
			"type": "mask_3d",
			"data": maskPayload,
		},
	}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/v1/figures/%s/geometry", url.PathEscape(figureKey)), body, nil)
}

func (c *HTTPClient) RemoveObjects(ctx context.Context, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	body := map[string]any{"ids": objectIDs}
	return c.doJSON(ctx, http.MethodPost, "/v1/objects/remove", body, nil)
}

func (c *HTTPClient) ListEntities(ctx context.Context, jobID int64) ([]annotation.EntityInfo, error) {
	var out struct {
		Entities []annotation.EntityInfo `json:"entities"`
	}
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/entities", jobID), nil, &out)
	return out.Entities, err
}

func (c *HTTPClient) CreateTag(ctx context.Context, volumeID, tagMetaID int64, value annotation.TagValue) (int64, error) {
	body := map[string]any{
		"tagId": tagMetaID,
		"value": value,
	}
	var out struct {
		ID int64 `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/volumes/%d/tags", volumeID), body, &out)
	return out.ID, err
}

func (c *HTTPClient) RemoveTag(ctx context.Context, tagID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/v1/tags/%d", tagID), nil, nil)
}

func (c *HTTPClient) SetEntityReviewStatus(ctx context.Context, jobID, entityID int64, status annotation.ReviewStatus) error {
	body := map[string]any{"reviewStatus": status}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/v1/jobs/%d/entities/%d/review-status", jobID, entityID), body, nil)
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID int64) (annotation.JobStatus, error) {
	var out struct {
		Status annotation.JobStatus `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/status", jobID), nil, &out)
	return out.Status, err
}

func (c *HTTPClient) SetJobStatus(ctx context.Context, jobID int64, status annotation.JobStatus) error {
	body := map[string]any{"status": status}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/v1/jobs/%d/status", jobID), body, nil)
}

func (c *HTTPClient) ProjectMeta(ctx context.Context, projectID int64) (*Meta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/projects/%d/meta", c.baseURL, projectID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp.StatusCode, payload)
	}
	return ParseMeta(payload)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	// A transport error leaves the fate of the request unknown, so only
	// idempotent methods are replayed after one. POSTs mint state; a
	// replay after a lost response could duplicate it.
	idempotent := method != http.MethodPost
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if idempotent && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return errorFromResponse(resp.StatusCode, payloadBytes)
	}
}

// errorFromResponse maps server rejections onto the sync error
// taxonomy: 409 is a conflict, 400/422 a validation failure, anything
// else a transport-level HTTPError.
func errorFromResponse(statusCode int, payload []byte) error {
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Entity  string `json:"entity"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	switch statusCode {
	case http.StatusConflict:
		return &annotation.ConflictError{Entity: errPayload.Entity, Reason: errPayload.Message}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		reason := errPayload.Message
		if reason == "" {
			reason = errPayload.Code
		}
		return &annotation.ValidationError{Entity: errPayload.Entity, Reason: reason}
	default:
		return &HTTPError{StatusCode: statusCode, Code: errPayload.Code, Message: errPayload.Message}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Store = (*HTTPClient)(nil)
