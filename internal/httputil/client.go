// Package httputil provides HTTP client and response plumbing shared by the
// detector client and the API surface.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Doer is the minimal HTTP client contract. *http.Client satisfies it
// directly; tests use RecordingClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RecordingClient is a Doer that records every request and replays canned
// responses in order. Once the queue is exhausted it returns empty 200s.
type RecordingClient struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	queue    []canned
	next     int

	// Err, when set, fails every request.
	Err error
}

type canned struct {
	status int
	body   string
	err    error
}

// NewRecordingClient returns an empty RecordingClient.
func NewRecordingClient() *RecordingClient {
	return &RecordingClient{}
}

// Queue appends a canned response.
func (c *RecordingClient) Queue(status int, body string) *RecordingClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, canned{status: status, body: body})
	return c
}

// QueueError appends a transport-level failure.
func (c *RecordingClient) QueueError(err error) *RecordingClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, canned{err: err})
	return c
}

// Do records the request and returns the next queued response.
func (c *RecordingClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(b)
	}
	c.bodies = append(c.bodies, body)

	if c.Err != nil {
		return nil, c.Err
	}
	if c.next < len(c.queue) {
		resp := c.queue[c.next]
		c.next++
		if resp.err != nil {
			return nil, resp.err
		}
		return &http.Response{
			StatusCode: resp.status,
			Body:       io.NopCloser(bytes.NewBufferString(resp.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns the recorded requests.
func (c *RecordingClient) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Request(nil), c.requests...)
}

// Body returns the recorded body of the nth request, or "" if out of range.
func (c *RecordingClient) Body(n int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.bodies) {
		return ""
	}
	return c.bodies[n]
}

// Count returns how many requests were recorded.
func (c *RecordingClient) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
