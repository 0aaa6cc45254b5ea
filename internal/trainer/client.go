// Package trainer is the client side of the remote training boundary: job
// submission, status polling and inference against a trained model.
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status is the job status reported by the remote trainer.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusTraining  Status = "training"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusTraining, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Update is one status report for a job, delivered either by callback or as
// the answer to Poll.
type Update struct {
	Handle      string  `json:"job_handle"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	ArtifactRef string  `json:"artifact_ref,omitempty"`
	Log         string  `json:"log,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// SubmitRequest is the body of POST /train.
type SubmitRequest struct {
	JobHandle   string          `json:"job_handle"`
	DatasetID   string          `json:"dataset_id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Corpus      json.RawMessage `json:"corpus"`
}

type submitResponse struct {
	JobHandle string `json:"job_handle"`
}

// ParsedEntity is one entity extracted by a trained model.
type ParsedEntity struct {
	Entity     string  `json:"entity"`
	Value      string  `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ParsedIntent is the top intent predicted by a trained model.
type ParsedIntent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Parse is a trained model's interpretation of one message.
type Parse struct {
	Intent   ParsedIntent   `json:"intent"`
	Entities []ParsedEntity `json:"entities"`
}

type parseRequest struct {
	ModelPath string `json:"model_path"`
	Text      string `json:"text"`
}

// StatusError is returned when the trainer answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err is a rejection by the trainer rather than a
// transport failure.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// Client communicates with the remote trainer over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client targeting the given trainer base URL. token, when not
// empty, is sent as a bearer token on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsRunning returns true if the trainer responds to GET /health with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Submit enqueues a corpus for training and returns the job handle the
// trainer will use in callbacks. When the trainer does not echo a handle the
// requested one is returned.
func (c *Client) Submit(ctx context.Context, sr SubmitRequest) (string, error) {
	var out submitResponse
	if err := c.do(ctx, "submit", http.MethodPost, "/train", sr, &out); err != nil {
		return "", err
	}
	if out.JobHandle == "" {
		return sr.JobHandle, nil
	}
	return out.JobHandle, nil
}

// Poll fetches the current status of a job.
func (c *Client) Poll(ctx context.Context, handle string) (Update, error) {
	var u Update
	if err := c.do(ctx, "poll", http.MethodGet, "/train/"+url.PathEscape(handle), nil, &u); err != nil {
		return Update{}, err
	}
	if u.Handle == "" {
		u.Handle = handle
	}
	return u, nil
}

// Parse runs text through the trained model at modelPath.
func (c *Client) Parse(ctx context.Context, modelPath, text string) (Parse, error) {
	var p Parse
	if err := c.do(ctx, "parse", http.MethodPost, "/parse", parseRequest{ModelPath: modelPath, Text: text}, &p); err != nil {
		return Parse{}, err
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
