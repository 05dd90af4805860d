package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// APIError represents a non-success response of a REST source.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// RESTSource talks to a collection server exposing one endpoint per resource
// (GET/POST on /{resource}, GET/PUT/DELETE on /{resource}/{id}).
type RESTSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTSource constructs a client for baseURL. A zero timeout means 10s.
func NewRESTSource(baseURL string, timeout time.Duration) *RESTSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// List issues GET /{resource} with the query encoded as URL parameters.
func (c *RESTSource) List(ctx context.Context, resource string, q query.Query) ([]domain.Record, error) {
	if !ValidResource(resource) {
		return nil, ErrInvalidResource
	}
	target := c.baseURL + "/" + resource
	if params := q.Values().Encode(); params != "" {
		target += "?" + params
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &raw); err != nil {
		return nil, err
	}
	return normalize(raw, formatJSON)
}

// Create issues POST /{resource} and returns the stored record.
func (c *RESTSource) Create(ctx context.Context, resource string, rec domain.Record) (domain.Record, error) {
	if !ValidResource(resource) {
		return nil, ErrInvalidResource
	}
	var out domain.Record
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/"+resource, rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update issues PUT /{resource}/{id} and returns the stored record.
func (c *RESTSource) Update(ctx context.Context, resource string, id int64, rec domain.Record) (domain.Record, error) {
	if !ValidResource(resource) {
		return nil, ErrInvalidResource
	}
	var out domain.Record
	if err := c.doJSON(ctx, http.MethodPut, c.itemURL(resource, id), rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete issues DELETE /{resource}/{id}.
func (c *RESTSource) Delete(ctx context.Context, resource string, id int64) error {
	if !ValidResource(resource) {
		return ErrInvalidResource
	}
	return c.doJSON(ctx, http.MethodDelete, c.itemURL(resource, id), nil, nil)
}

func (c *RESTSource) itemURL(resource string, id int64) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, resource, strconv.FormatInt(id, 10))
}

func (c *RESTSource) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
