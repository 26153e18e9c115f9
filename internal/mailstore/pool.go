package mailstore

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
)

// clientPool keeps up to size idle IMAP client connections for reuse
// (default 4). A client is checked out for one command and returned
// immediately after — it is never held across unrelated chunk
// operations. Connections are dialed lazily: the pool starts empty, and
// get dials a fresh connection whenever no idle one is waiting, so the
// number of connections checked out at once is not capped and callers
// never wait for one. put closes a returned client instead of keeping
// it once size idle clients are already held; a client that failed
// mid-command is closed by discard rather than returned.
type clientPool struct {
	dial    func(ctx context.Context) (*imapclient.Client, error)
	clients chan *imapclient.Client
	size    int
}

func newClientPool(size int, dial func(ctx context.Context) (*imapclient.Client, error)) *clientPool {
	if size < 1 {
		size = 1
	}
	return &clientPool{
		dial:    dial,
		clients: make(chan *imapclient.Client, size),
		size:    size,
	}
}

// get returns a pooled client if one is available, dialing a fresh one
// otherwise. Callers that hit a connection error mid-command must call
// discard instead of put, so a dead connection is never recycled.
func (p *clientPool) get(ctx context.Context) (*imapclient.Client, error) {
	select {
	case c := <-p.clients:
		return c, nil
	default:
	}
	c, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialing imap: %w", err)
	}
	return c, nil
}

// put returns a healthy client to the pool, closing it instead if the
// pool is already at capacity.
func (p *clientPool) put(c *imapclient.Client) {
	select {
	case p.clients <- c:
	default:
		c.Close()
	}
}

// discard closes a client known to be broken instead of returning it to
// the pool, so the next get dials a fresh connection.
func (p *clientPool) discard(c *imapclient.Client) {
	c.Close()
}

func (p *clientPool) closeAll() error {
	close(p.clients)
	var firstErr error
	for c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
