package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/y0f/apiprobe/internal/check"
)

// WebSocketRequest describes a WebSocket handshake, optionally followed by
// one message exchange.
type WebSocketRequest struct {
	URL       string
	Header    http.Header
	Send      string
	AwaitRead bool // read one message after the handshake (implied by Send)
	Authorize func(*http.Request)
}

// Dial performs the handshake and returns the handshake status and headers.
// The first message read, if any, becomes the outcome body.
func (c *Client) Dial(ctx context.Context, req WebSocketRequest, timeout time.Duration) (out *check.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = check.Failed(check.TransportUnexpectedException, time.Since(start), fmt.Sprintf("panic: %v", r))
		}
	}()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return failure(err, time.Since(start))
	}

	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	for k, vs := range req.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if req.Authorize != nil {
		probe, err := http.NewRequest(http.MethodGet, req.URL, nil)
		if err == nil {
			req.Authorize(probe)
			if auth := probe.Header.Get("Authorization"); auth != "" {
				header.Set("Authorization", auth)
			}
		}
	}

	start = time.Now()
	conn, resp, err := websocket.Dial(ctx, req.URL, &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: header,
	})
	if err != nil {
		// A rejected upgrade still carries a response worth scoring.
		if resp != nil {
			return check.Response(resp.StatusCode, resp.Header, nil, time.Since(start))
		}
		return failure(fmt.Errorf("websocket dial: %w", err), time.Since(start))
	}
	defer conn.CloseNow()

	var body []byte
	if req.Send != "" {
		if err := conn.Write(ctx, websocket.MessageText, []byte(req.Send)); err != nil {
			return failure(fmt.Errorf("websocket write: %w", err), time.Since(start))
		}
	}
	if req.Send != "" || req.AwaitRead {
		conn.SetReadLimit(maxBodyRead)
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return failure(fmt.Errorf("websocket read: %w", err), time.Since(start))
		}
		body = msg
	}
	elapsed := time.Since(start)
	conn.Close(websocket.StatusNormalClosure, "check complete")

	status := http.StatusSwitchingProtocols
	var respHeader http.Header
	if resp != nil {
		status = resp.StatusCode
		respHeader = resp.Header
	}
	return check.Response(status, respHeader, body, elapsed)
}
