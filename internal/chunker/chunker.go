// Package chunker splits a byte stream into fixed-size chunks, labeling
// each with its content hash as it is produced. Unlike a content-defined
// chunker (e.g. restic's rolling-hash chunker), boundaries fall at a fixed
// byte count, not at content-dependent cut points — uniform chunk sizes
// keep every attachment under the mail store's per-attachment ceiling
// regardless of payload content.
package chunker

import (
	"bufio"
	"fmt"
	"io"

	"github.com/objectmail/objectmail/internal/hasher"
)

const (
	MinChunkSize     = 1 << 20       // 1 MiB
	MaxChunkSize     = 25 << 20      // 25 MiB
	DefaultChunkSize = 18 << 20      // 18 MiB
)

// Chunk is one produced slice of the input stream, already hashed.
type Chunk struct {
	Index int
	Hash  string
	Bytes []byte
}

// Chunker reads fixed-size chunks lazily from an io.Reader.
type Chunker struct {
	r         *bufio.Reader
	size      int
	nextIndex int
	done      bool
}

// New validates size against the [MinChunkSize, MaxChunkSize] bound and
// returns a Chunker reading from r.
func New(r io.Reader, size int) (*Chunker, error) {
	if size < MinChunkSize || size > MaxChunkSize {
		return nil, fmt.Errorf("chunker: size %d outside [%d, %d]", size, MinChunkSize, MaxChunkSize)
	}
	return &Chunker{r: bufio.NewReaderSize(r, size), size: size}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// Every chunk has exactly `size` bytes except possibly the last. Next
// never buffers more than one chunk's worth of the input at a time.
func (c *Chunker) Next() (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		// full chunk read; stream may or may not be exhausted yet.
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		c.done = true
		if n == 0 {
			return Chunk{}, io.EOF
		}
		buf = buf[:n]
	default:
		return Chunk{}, err
	}
	chunk := Chunk{
		Index: c.nextIndex,
		Hash:  hasher.Hash(buf),
		Bytes: buf,
	}
	c.nextIndex++
	return chunk, nil
}

// All drains the chunker, invoking fn for every chunk in order. It exists
// for callers (tests, the pipeline's dedup loop) that want a simple
// iteration form instead of driving Next directly; it still never holds
// more than one chunk's bytes at a time.
func All(r io.Reader, size int, fn func(Chunk) error) error {
	ck, err := New(r, size)
	if err != nil {
		return err
	}
	for {
		chunk, err := ck.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}
