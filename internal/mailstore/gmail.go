package mailstore

// GmailStore wraps GenericImapStore with Gmail's fixed IMAP endpoint and
// default drafts folder, mirroring original_source/src/main.rs's
// GmailProvider wrapper around a generic IMAP client.
type GmailStore struct {
	*GenericImapStore
}

const (
	gmailHost         = "imap.gmail.com"
	gmailPort         = 993
	gmailDraftsFolder = "[Gmail]/Drafts"
)

// NewGmailStore builds a Store against Gmail, defaulting host/port and
// the drafts folder unless the caller overrides them (e.g. a
// locale-specific "[Gmail]/Borradores").
func NewGmailStore(user, password, draftsFolder string, poolSize int) *GmailStore {
	if draftsFolder == "" {
		draftsFolder = gmailDraftsFolder
	}
	return &GmailStore{GenericImapStore: NewGenericImapStore(GenericImapConfig{
		Host:         gmailHost,
		Port:         gmailPort,
		User:         user,
		Password:     password,
		DraftsFolder: draftsFolder,
		PoolSize:     poolSize,
	})}
}
