// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	commonhttp "token-broker/internal/common/http"
)

// Call is one request seen by FakeGateway
type Call struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// DecodeBody unmarshals the recorded JSON body into v
func (c Call) DecodeBody(v any) error {
	return json.Unmarshal(c.Body, v)
}

// ReplyFunc produces the answer for a call
type ReplyFunc func(ctx context.Context, call Call) (*commonhttp.Response, error)

// FakeGateway is a commonhttp.Gateway that records calls and answers them by
// URL suffix. Unmatched URLs get a 404.
type FakeGateway struct {
	mu      sync.Mutex
	calls   []Call
	replies map[string]ReplyFunc
}

var _ commonhttp.Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{replies: make(map[string]ReplyFunc)}
}

// On answers URLs ending in suffix with status and body
func (g *FakeGateway) On(suffix string, status int, body string) *FakeGateway {
	return g.OnFunc(suffix, func(context.Context, Call) (*commonhttp.Response, error) {
		return &commonhttp.Response{StatusCode: status, Body: []byte(body)}, nil
	})
}

// OnError fails URLs ending in suffix with err and no response
func (g *FakeGateway) OnError(suffix string, err error) *FakeGateway {
	return g.OnFunc(suffix, func(context.Context, Call) (*commonhttp.Response, error) {
		return nil, err
	})
}

// OnFunc answers URLs ending in suffix with fn
func (g *FakeGateway) OnFunc(suffix string, fn ReplyFunc) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[suffix] = fn
	return g
}

func (g *FakeGateway) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*commonhttp.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	call := Call{URL: url, Headers: copyHeaders(headers), Body: data}

	g.mu.Lock()
	g.calls = append(g.calls, call)
	var reply ReplyFunc
	for suffix, fn := range g.replies {
		if strings.HasSuffix(url, suffix) {
			reply = fn
			break
		}
	}
	g.mu.Unlock()

	if reply == nil {
		return &commonhttp.Response{StatusCode: http.StatusNotFound, Body: []byte("not found")}, nil
	}
	return reply(ctx, call)
}

// Calls returns every recorded call in order
func (g *FakeGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount counts recorded calls whose URL ends in suffix. An empty suffix counts all.
func (g *FakeGateway) CallCount(suffix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasSuffix(c.URL, suffix) {
			n++
		}
	}
	return n
}

func copyHeaders(headers map[string]string) map[string]string {
	c := make(map[string]string, len(headers))
	for k, v := range headers {
		c[k] = v
	}
	return c
}

// FixedClock returns a clock frozen at t
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Clock is a settable clock for tests that move time
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
