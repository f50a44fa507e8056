// Package routertest provides a scripted model driver for tests.
package routertest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/hearth/internal/router"
)

// Reply is one scripted answer. Err takes precedence over Content. Chunks,
// when set, are what Stream yields; otherwise Content is split on spaces.
type Reply struct {
	Content string
	Chunks  []string
	Err     error
	// StreamErr is reported after all chunks were yielded.
	StreamErr error
}

// Call records a request the driver received.
type Call struct {
	Name   string
	Model  string
	Stream bool
	Prompt string
}

// Driver answers requests from per-name queues. When a queue holds a single
// reply it is reused for every further call with that name.
type Driver struct {
	KindName string

	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
}

func New(kind string) *Driver {
	return &Driver{KindName: kind, replies: make(map[string][]Reply)}
}

// On queues replies for calls whose Request.Name equals name.
func (d *Driver) On(name string, replies ...Reply) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[name] = append(d.replies[name], replies...)
	return d
}

// Calls returns the received requests in order.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsNamed counts received requests with the given name.
func (d *Driver) CallsNamed(name string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (d *Driver) Kind() string { return d.KindName }

func (d *Driver) next(req router.Request, stream bool) (Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var prompt []string
	for _, m := range req.Messages {
		prompt = append(prompt, m.Content)
	}
	d.calls = append(d.calls, Call{Name: req.Name, Model: req.Model, Stream: stream, Prompt: strings.Join(prompt, "\n")})

	q := d.replies[req.Name]
	if len(q) == 0 {
		return Reply{}, fmt.Errorf("routertest: no reply scripted for %q", req.Name)
	}
	r := q[0]
	if len(q) > 1 {
		d.replies[req.Name] = q[1:]
	}
	return r, nil
}

func (d *Driver) Complete(_ context.Context, req router.Request) (*router.Response, error) {
	r, err := d.next(req, false)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &router.Response{Provider: d.KindName, Model: req.Model, Content: r.Content}, nil
}

func (d *Driver) Stream(_ context.Context, req router.Request) (router.TokenStream, error) {
	r, err := d.next(req, true)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	chunks := r.Chunks
	if chunks == nil && r.Content != "" {
		words := strings.SplitAfter(r.Content, " ")
		chunks = words
	}
	return &Stream{chunks: chunks, err: r.StreamErr}, nil
}

// Stream replays chunks.
type Stream struct {
	chunks []string
	cur    string
	err    error
	closed bool
}

// NewStream returns a stream yielding chunks and then err.
func NewStream(err error, chunks ...string) *Stream {
	return &Stream{chunks: chunks, err: err}
}

func (s *Stream) Next() bool {
	if s.closed || len(s.chunks) == 0 {
		return false
	}
	s.cur, s.chunks = s.chunks[0], s.chunks[1:]
	return true
}

func (s *Stream) Current() string { return s.cur }

func (s *Stream) Err() error {
	if len(s.chunks) > 0 && !s.closed {
		return nil
	}
	return s.err
}

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool { return s.closed }

// RateLimited builds the error a provider returns on HTTP 429.
func RateLimited(model string) error {
	return &router.ProviderError{Provider: "test", Model: model, StatusCode: http.StatusTooManyRequests, Err: fmt.Errorf("rate limit exceeded")}
}

// Unavailable builds a non-rate-limit provider error.
func Unavailable(model string) error {
	return &router.ProviderError{Provider: "test", Model: model, StatusCode: http.StatusServiceUnavailable, Err: fmt.Errorf("overloaded")}
}
