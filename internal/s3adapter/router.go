// Package s3adapter is the HTTP/XML boundary translating S3 REST calls
// into Storage Pipeline operations. It routes on {Bucket}/{Key}
// path variables via gorilla/mux rather than inventing a router from
// scratch.
package s3adapter

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/objectmail/objectmail/internal/pipeline"
)

// Signer authenticates an inbound request and resolves it to an owner
// id. Request signing/authentication proper is out of scope —
// NoopSigner below is the only implementation this module ships, but the
// interface exists so a real SigV4 verifier can be dropped in without
// touching any handler.
type Signer interface {
	Authenticate(r *http.Request) (owner string, err error)
}

// Adapter owns the mux.Router and the pipeline it dispatches onto.
type Adapter struct {
	pipeline *pipeline.Pipeline
	signer   Signer
	log      *slog.Logger
	router   *mux.Router
}

const (
	bucketNamePattern = `[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]`
	objectKeyPattern  = `.*`
)

// New builds the adapter's router, using regex-constrained mux path
// variables to separate the bucket and object-key segments.
func New(p *pipeline.Pipeline, signer Signer, log *slog.Logger) *Adapter {
	a := &Adapter{pipeline: p, signer: signer, log: log, router: mux.NewRouter()}
	a.routes()
	return a
}

func (a *Adapter) Handler() http.Handler { return a.router }

func (a *Adapter) routes() {
	root := a.router.PathPrefix("/").Subrouter()
	root.HandleFunc("/", a.withAuth(a.handleListBuckets)).Methods(http.MethodGet)

	bucket := a.router.Path("/{Bucket:" + bucketNamePattern + "}").Subrouter()
	bucket.HandleFunc("", a.withAuth(a.handleBucket)).Methods(http.MethodPut, http.MethodDelete, http.MethodGet, http.MethodHead)

	object := a.router.Path("/{Bucket:" + bucketNamePattern + "}/{Key:" + objectKeyPattern + "}").Subrouter()
	object.HandleFunc("", a.withAuth(a.handleObject)).Methods(
		http.MethodPut, http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodPost)
}

// handleBucket dispatches CreateBucket/DeleteBucket/ListObjectsV2/
// HeadBucket by HTTP method, and ?uploads/?uploads=... query params for
// multipart-uploads listing, matching S3's overloaded per-bucket URL.
func (a *Adapter) handleBucket(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		a.createBucket(w, r)
	case http.MethodDelete:
		a.deleteBucket(w, r)
	case http.MethodHead:
		a.headBucket(w, r)
	case http.MethodGet:
		if _, ok := r.URL.Query()["uploads"]; ok {
			a.listMultipartUploads(w, r)
			return
		}
		a.listObjectsV2(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported method")
	}
}

// handleObject dispatches PutObject/GetObject/HeadObject/DeleteObject and
// the multipart-upload sub-operations selected by query parameters
// (uploads, uploadId, partNumber) on the same object URL, exactly as S3
// overloads a single REST path across many semantically distinct calls.
func (a *Adapter) handleObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch r.Method {
	case http.MethodPut:
		if _, ok := q["partNumber"]; ok {
			a.uploadPart(w, r)
			return
		}
		a.putObject(w, r)
	case http.MethodPost:
		if _, ok := q["uploads"]; ok {
			a.createMultipartUpload(w, r)
			return
		}
		if _, ok := q["uploadId"]; ok {
			a.completeMultipartUpload(w, r)
			return
		}
		writeError(w, http.StatusBadRequest, "InvalidRequest", "unrecognized POST operation")
	case http.MethodGet:
		if _, ok := q["uploadId"]; ok {
			a.listParts(w, r)
			return
		}
		a.getObject(w, r)
	case http.MethodHead:
		a.headObject(w, r)
	case http.MethodDelete:
		if _, ok := q["uploadId"]; ok {
			a.abortMultipartUpload(w, r)
			return
		}
		a.deleteObject(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported method")
	}
}
