package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/objectmail/objectmail/internal/mailstore"
	repos "github.com/objectmail/objectmail/internal/repository"
	"github.com/objectmail/objectmail/pkg/models"
)

// chunkReader assembles an object's payload by fetching its chunks from
// the mail store one at a time, in chunk-map order, and serving bytes
// out of the current chunk's buffer until it's exhausted — an io.Reader
// backed by per-chunk mailbox fetches instead of a single file handle.
type chunkReader struct {
	ctx    context.Context
	mail   mailstore.Store
	chunks *repos.ChunkRepository
	refs   []models.ChunkRef

	skip  int64
	limit int64 // remaining bytes to emit; -1 means unbounded

	idx int
	buf []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.limit == 0 {
		return 0, io.EOF
	}
	for len(c.buf) == 0 {
		if c.idx >= len(c.refs) {
			return 0, io.EOF
		}
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
		messageID, err := c.resolveMessageID(c.refs[c.idx].Hash)
		if err != nil {
			return 0, err
		}
		data, err := c.mail.FetchChunk(c.ctx, messageID)
		if err != nil {
			return 0, fmt.Errorf("fetching chunk %s: %w", c.refs[c.idx].Hash, err)
		}
		c.idx++
		if c.skip > 0 {
			if int64(len(data)) <= c.skip {
				c.skip -= int64(len(data))
				continue
			}
			data = data[c.skip:]
			c.skip = 0
		}
		c.buf = data
	}

	n := len(p)
	if n > len(c.buf) {
		n = len(c.buf)
	}
	if c.limit >= 0 && int64(n) > c.limit {
		n = int(c.limit)
	}
	copy(p, c.buf[:n])
	c.buf = c.buf[n:]
	if c.limit >= 0 {
		c.limit -= int64(n)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *chunkReader) resolveMessageID(hash string) (string, error) {
	chunk, err := c.chunks.Lookup(c.ctx, hash)
	if err != nil {
		return "", fmt.Errorf("resolving chunk %s: %w", hash, err)
	}
	if chunk == nil {
		return "", fmt.Errorf("chunk %s referenced by object but missing from metadata store", hash)
	}
	return chunk.MailMessageID, nil
}

func (c *chunkReader) Close() error { return nil }
