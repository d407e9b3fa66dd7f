// Package detector is the HTTP client for the external perception service:
// per-frame object detection plus the slow secondary threat classification.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/httputil"
	"github.com/kestrel-data/occupancy.report/internal/vision"
)

// Client talks to the perception service over HTTP/JSON.
type Client struct {
	baseURL         string
	http            httputil.Doer
	detectTimeout   time.Duration
	classifyTimeout time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// HTTP defaults to http.DefaultClient.
	HTTP httputil.Doer
	// DetectTimeout bounds a detection request; default 10s.
	DetectTimeout time.Duration
	// ClassifyTimeout bounds a classification request; the classifier is
	// slow, default 60s.
	ClassifyTimeout time.Duration
}

// New creates a Client.
func New(opts Options) *Client {
	h := opts.HTTP
	if h == nil {
		h = http.DefaultClient
	}
	dt := opts.DetectTimeout
	if dt <= 0 {
		dt = 10 * time.Second
	}
	ct := opts.ClassifyTimeout
	if ct <= 0 {
		ct = 60 * time.Second
	}
	return &Client{
		baseURL:         opts.BaseURL,
		http:            h,
		detectTimeout:   dt,
		classifyTimeout: ct,
	}
}

type detectRequest struct {
	Camera      string `json:"camera"`
	ImageBase64 string `json:"image_base64"`
	// WithVerdict asks the service to run classification synchronously and
	// enrich the result with a camera-level verdict.
	WithVerdict bool `json:"with_verdict,omitempty"`
}

type classifyResponse struct {
	IsFalsePositive bool    `json:"is_false_positive"`
	Confidence      float64 `json:"confidence"`
	Model           string  `json:"model,omitempty"`
	Explanation     string  `json:"explanation,omitempty"`
}

// Detect submits a frame and returns the detection result for the camera.
func (c *Client) Detect(ctx context.Context, camera string, frame []byte) (*vision.DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.detectTimeout)
	defer cancel()

	var result vision.DetectionResult
	if err := c.post(ctx, "/api/v1/detect", detectRequest{
		Camera:      camera,
		ImageBase64: base64.StdEncoding.EncodeToString(frame),
	}, &result); err != nil {
		return nil, err
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return &result, nil
}

// Classify submits a captured frame for secondary threat classification.
// It implements vision.ThreatClassifier and honors ctx cancellation, so a
// superseded escalation aborts its request instead of letting a stale
// verdict land later.
func (c *Client) Classify(ctx context.Context, camera string, frame []byte) (vision.ClassifierVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.classifyTimeout)
	defer cancel()

	var resp classifyResponse
	if err := c.post(ctx, "/api/v1/classify", detectRequest{
		Camera:      camera,
		ImageBase64: base64.StdEncoding.EncodeToString(frame),
	}, &resp); err != nil {
		return vision.ClassifierVerdict{}, err
	}
	return vision.ClassifierVerdict{
		FalsePositive: resp.IsFalsePositive,
		Confidence:    resp.Confidence,
		Model:         resp.Model,
		Explanation:   resp.Explanation,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure: the request never made it to the service.
		return &vision.TransmissionError{Err: fmt.Errorf("perception service %s: %w", path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("perception service %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
