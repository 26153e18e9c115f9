package mailstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/objectmail/objectmail/internal/errvalues"
)

// GenericImapConfig carries the credentials and target folder needed to
// reach any IMAPv4rev1/rev2 provider.
type GenericImapConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DraftsFolder string
	PoolSize     int
}

// GenericImapStore is the Store implementation backing production
// deployments: every operation checks out a pooled *imapclient.Client,
// runs one IMAP round-trip, and returns the client to the pool.
type GenericImapStore struct {
	cfg  GenericImapConfig
	pool *clientPool
}

func NewGenericImapStore(cfg GenericImapConfig) *GenericImapStore {
	s := &GenericImapStore{cfg: cfg}
	s.pool = newClientPool(cfg.PoolSize, s.dial)
	return s
}

func (s *GenericImapStore) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, errvalues.ErrMailStoreUnavailable
	}
	if err := c.Login(s.cfg.User, s.cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, errvalues.ErrMailStoreUnavailable
	}
	return c, nil
}

func (s *GenericImapStore) StoreChunk(ctx context.Context, hash string, data []byte) (string, error) {
	c, err := s.pool.get(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := writeAttachmentDraft(&buf, hash, data); err != nil {
		s.pool.put(c)
		return "", fmt.Errorf("building draft: %w", err)
	}

	appendCmd := c.Append(s.cfg.DraftsFolder, int64(buf.Len()), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
	})
	if _, err := appendCmd.Write(buf.Bytes()); err != nil {
		appendCmd.Close()
		s.pool.discard(c)
		return "", errvalues.ErrMailStoreUnavailable
	}
	if err := appendCmd.Close(); err != nil {
		s.pool.discard(c)
		return "", errvalues.ErrMailStoreUnavailable
	}
	appendData, err := appendCmd.Wait()
	if err != nil {
		s.pool.discard(c)
		if isQuotaError(err) {
			return "", errvalues.ErrMailStoreQuotaExceeded
		}
		return "", errvalues.ErrMailStoreUnavailable
	}
	s.pool.put(c)

	if appendData != nil && appendData.UID != 0 {
		return strconv.FormatUint(uint64(appendData.UID), 10), nil
	}
	// Some servers don't return APPENDUID; fall back to the subject as a
	// last-resort lookup key — informational by design, but the only
	// handle we have left.
	return subjectFor(hash), nil
}

func (s *GenericImapStore) FetchChunk(ctx context.Context, messageID string) ([]byte, error) {
	c, err := s.pool.get(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := c.Select(s.cfg.DraftsFolder, nil).Wait(); err != nil {
		s.pool.discard(c)
		return nil, errvalues.ErrMailStoreUnavailable
	}
	defer s.pool.put(c)

	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return nil, errvalues.ErrChunkMissing
	}
	uidSet := imap.UIDSetNum(imap.UID(uid))

	fetchOpts := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := c.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, errvalues.ErrChunkMissing
	}
	var raw []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if section, ok := item.(imapclient.FetchItemDataBodySection); ok {
			raw, err = io.ReadAll(section.Literal)
			if err != nil {
				return nil, fmt.Errorf("reading message literal: %w", err)
			}
		}
	}
	if raw == nil {
		return nil, errvalues.ErrChunkMissing
	}
	return extractAttachment(raw)
}

func (s *GenericImapStore) DeleteChunk(ctx context.Context, messageID string) error {
	c, err := s.pool.get(ctx)
	if err != nil {
		return err
	}

	if _, err := c.Select(s.cfg.DraftsFolder, nil).Wait(); err != nil {
		s.pool.discard(c)
		return errvalues.ErrMailStoreUnavailable
	}
	defer s.pool.put(c)

	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return nil // already-absent handle: idempotent delete.
	}
	uidSet := imap.UIDSetNum(imap.UID(uid))

	storeCmd := c.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil)
	storeCmd.Close()

	if err := c.Expunge().Close(); err != nil {
		s.pool.discard(c)
		return errvalues.ErrMailStoreUnavailable
	}
	return nil
}

func (s *GenericImapStore) Close() error {
	return s.pool.closeAll()
}

// writeAttachmentDraft builds a MIME message with a single base64
// attachment holding data, and a subject encoding the chunk hash.
func writeAttachmentDraft(w io.Writer, hash string, data []byte) error {
	var h mail.Header
	h.SetSubject(subjectFor(hash))

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "application/octet-stream")
	ah.SetFilename(hash + ".bin")
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := aw.Write(data); err != nil {
		return err
	}
	if err := aw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

// extractAttachment parses a raw MIME message and returns the bytes of
// its first attachment part.
func extractAttachment(raw []byte) ([]byte, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errvalues.ErrChunkMissing
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errvalues.ErrChunkMissing
		}
		if _, ok := part.Header.(*mail.AttachmentHeader); ok {
			return io.ReadAll(part.Body)
		}
	}
	return nil, errvalues.ErrChunkMissing
}

// isQuotaError detects a provider rejecting APPEND for message size.
// Servers surface this as a tagged NO response whose text names the
// over-quota/too-large condition rather than a distinct status code, so
// this matches on the response text the way most IMAP client wrappers do.
func isQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "too large") || strings.Contains(msg, "size limit")
}
