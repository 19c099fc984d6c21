package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/y0f/apiprobe/internal/check"
)

// Connect checks raw TCP reachability of address (host:port). A successful
// connect yields a transport-ok outcome without a status code.
func (c *Client) Connect(ctx context.Context, address string, timeout time.Duration) *check.Outcome {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return failure(err, 0)
	}

	dialer := net.Dialer{Timeout: timeout, Control: dialControl(c.opts.BlockPrivate)}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	elapsed := time.Since(start)
	if err != nil {
		return failure(err, elapsed)
	}
	conn.Close()

	return check.Response(0, nil, []byte(fmt.Sprintf("connected to %s", address)), elapsed)
}
