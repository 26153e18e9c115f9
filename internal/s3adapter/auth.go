package s3adapter

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// NoopSigner accepts every request and assigns it to a single fixed
// owner id, since request signing/authentication is out of scope here.
// A real Signer (SigV4, mTLS, whatever) slots in behind the same
// interface later without touching a single handler.
type NoopSigner struct {
	Owner uuid.UUID
}

func (n NoopSigner) Authenticate(r *http.Request) (string, error) {
	return n.Owner.String(), nil
}

type ownerKey struct{}

func (a *Adapter) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := a.signer.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusForbidden, "AccessDenied", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next(w, r.WithContext(ctx))
	}
}

func ownerFrom(r *http.Request) uuid.UUID {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	id, err := uuid.Parse(owner)
	if err != nil {
		return uuid.Nil
	}
	return id
}
