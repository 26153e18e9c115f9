package s3adapter

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/objectmail/objectmail/internal/pipeline"
)

// amzMetaPrefix is the header prefix S3 clients use to carry user
// metadata on PutObject/CreateMultipartUpload requests.
const amzMetaPrefix = "X-Amz-Meta-"

// parseUserMetadata extracts x-amz-meta-* headers into a map keyed by the
// header's suffix, matched case-insensitively (as net/http.Header already
// canonicalizes) but returned with the suffix's canonical-form case
// preserved.
func parseUserMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for k := range h {
		suffix, ok := strings.CutPrefix(k, amzMetaPrefix)
		if !ok {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[suffix] = h.Get(k)
	}
	return meta
}

// writeUserMetadata renders stored user metadata back as x-amz-meta-*
// response headers, preserving the case captured at PutObject time.
func writeUserMetadata(w http.ResponseWriter, meta map[string]string) {
	for k, v := range meta {
		w.Header().Set(amzMetaPrefix+k, v)
	}
}

func (a *Adapter) putObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := parseUserMetadata(r.Header)
	obj, err := a.pipeline.PutObject(r.Context(), ownerFrom(r), vars["Bucket"], vars["Key"], contentType, meta, r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", obj.Etag)
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) getObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rng, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", err.Error())
		return
	}

	result, err := a.pipeline.GetObject(r.Context(), ownerFrom(r), vars["Bucket"], vars["Key"], rng)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer result.Body.Close()

	obj := result.Object
	w.Header().Set("ETag", obj.Etag)
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatUint(result.ContentLength, 10))
	w.Header().Set("Last-Modified", obj.LastModified.Format(time.RFC1123))
	writeUserMetadata(w, obj.Metadata)
	if rng != nil {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = io.Copy(w, result.Body)
}

func (a *Adapter) headObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	obj, err := a.pipeline.HeadObject(r.Context(), ownerFrom(r), vars["Bucket"], vars["Key"])
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", obj.Etag)
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatUint(obj.Size, 10))
	w.Header().Set("Last-Modified", obj.LastModified.Format(time.RFC1123))
	writeUserMetadata(w, obj.Metadata)
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) deleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.pipeline.DeleteObject(r.Context(), ownerFrom(r), vars["Bucket"], vars["Key"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange parses a single-range "bytes=start-end" Range header.
// Multi-range requests aren't supported, and net/http has no
// single-range parser of its own, unlike its multipart/form helpers.
func parseRange(header string) (*pipeline.Range, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	if parts[0] == "" {
		end, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, err
		}
		return &pipeline.Range{Start: -end, End: -1}, nil
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}
	if parts[1] == "" {
		return &pipeline.Range{Start: start, End: -1}, nil
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, err
	}
	return &pipeline.Range{Start: start, End: end}, nil
}
