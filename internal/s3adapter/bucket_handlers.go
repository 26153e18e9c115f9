package s3adapter

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (a *Adapter) createBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["Bucket"]
	if _, err := a.pipeline.CreateBucket(r.Context(), ownerFrom(r), name); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Location", "/"+name)
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["Bucket"]
	if err := a.pipeline.DeleteBucket(r.Context(), ownerFrom(r), name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) headBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["Bucket"]
	if err := a.pipeline.BucketExists(r.Context(), ownerFrom(r), name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := a.pipeline.ListBuckets(r.Context(), ownerFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	result := listAllMyBucketsResult{}
	for _, b := range buckets {
		result.Buckets = append(result.Buckets, bucketXML{
			Name:         b.Name,
			CreationDate: b.CreatedAt.Format(time.RFC3339),
		})
	}
	writeXML(w, http.StatusOK, result)
}

func (a *Adapter) listObjectsV2(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["Bucket"]
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	maxKeys := parseIntDefault(q.Get("max-keys"), 1000)
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}

	// continuation-token resumes a prior page and takes precedence over
	// start-after when both are present, matching S3.
	continuationToken := q.Get("continuation-token")
	startAfter := q.Get("start-after")
	if continuationToken != "" {
		decoded, err := decodeContinuationToken(continuationToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", "invalid continuation-token")
			return
		}
		startAfter = decoded
	}

	res, err := a.pipeline.ListObjectsV2(r.Context(), ownerFrom(r), bucket, prefix, delimiter, startAfter, maxKeys)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := listObjectsV2Result{
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		MaxKeys:           maxKeys,
		IsTruncated:       res.IsTruncated,
		ContinuationToken: continuationToken,
		KeyCount:          len(res.Objects) + len(res.CommonPrefixes),
	}
	if res.IsTruncated {
		out.NextContinuationToken = encodeContinuationToken(res.NextMarker)
	}
	for _, o := range res.Objects {
		out.Contents = append(out.Contents, objectXML{
			Key:          o.Key,
			LastModified: o.LastModified.Format(time.RFC3339),
			ETag:         o.Etag,
			Size:         o.Size,
		})
	}
	for _, cp := range res.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, commonPrefixXML{Prefix: cp})
	}
	writeXML(w, http.StatusOK, out)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// encodeContinuationToken/decodeContinuationToken wrap the resume key as
// an opaque base64 token, the way S3 clients expect to treat it.
func encodeContinuationToken(key string) string {
	return base64.URLEncoding.EncodeToString([]byte(key))
}

func decodeContinuationToken(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
