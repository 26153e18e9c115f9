package s3adapter

import (
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/objectmail/objectmail/internal/pipeline"
)

func (a *Adapter) createMultipartUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := parseUserMetadata(r.Header)
	upload, err := a.pipeline.CreateMultipartUpload(r.Context(), ownerFrom(r), vars["Bucket"], vars["Key"], contentType, meta)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeXML(w, http.StatusOK, initiateMultipartUploadResult{
		Bucket:   vars["Bucket"],
		Key:      vars["Key"],
		UploadID: upload.ID.String(),
	})
}

func (a *Adapter) uploadPart(w http.ResponseWriter, r *http.Request) {
	uploadID, err := uuid.Parse(r.URL.Query().Get("uploadId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "malformed uploadId")
		return
	}
	partNumber, err := strconv.Atoi(r.URL.Query().Get("partNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "malformed partNumber")
		return
	}
	part, err := a.pipeline.UploadPart(r.Context(), uploadID, partNumber, r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", part.Etag)
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) completeMultipartUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uploadID, err := uuid.Parse(r.URL.Query().Get("uploadId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "malformed uploadId")
		return
	}
	var body completeMultipartUploadRequest
	if err := xml.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedXML", err.Error())
		return
	}
	requested := make([]pipeline.CompletedPart, len(body.Parts))
	for i, part := range body.Parts {
		requested[i] = pipeline.CompletedPart{Number: part.PartNumber, ETag: part.ETag}
	}
	obj, err := a.pipeline.CompleteMultipartUpload(r.Context(), ownerFrom(r), vars["Bucket"], uploadID, requested)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Bucket: vars["Bucket"],
		Key:    obj.Key,
		ETag:   obj.Etag,
	})
}

func (a *Adapter) abortMultipartUpload(w http.ResponseWriter, r *http.Request) {
	uploadID, err := uuid.Parse(r.URL.Query().Get("uploadId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "malformed uploadId")
		return
	}
	if err := a.pipeline.AbortMultipartUpload(r.Context(), uploadID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) listParts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uploadID, err := uuid.Parse(r.URL.Query().Get("uploadId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "malformed uploadId")
		return
	}
	parts, err := a.pipeline.ListParts(r.Context(), uploadID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := listPartsResult{Bucket: vars["Bucket"], Key: vars["Key"]}
	for _, p := range parts {
		out.Parts = append(out.Parts, partXML{PartNumber: p.Number, ETag: p.Etag, Size: p.Size})
	}
	writeXML(w, http.StatusOK, out)
}

func (a *Adapter) listMultipartUploads(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["Bucket"]
	uploads, err := a.pipeline.ListMultipartUploads(r.Context(), ownerFrom(r), bucket)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := listMultipartUploadsResult{Bucket: bucket}
	for _, u := range uploads {
		out.Uploads = append(out.Uploads, uploadXML{Key: u.Key, UploadID: u.ID.String()})
	}
	writeXML(w, http.StatusOK, out)
}
