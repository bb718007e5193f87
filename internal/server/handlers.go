package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/gateway"
)

// query returns the named query parameters, failing on the first one that
// is missing.
func query(r *http.Request, names ...string) ([]string, error) {
	q := r.URL.Query()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = q.Get(n)
		if out[i] == "" {
			return nil, errs.Invalidf("query parameter %q is required", n)
		}
	}
	return out, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- buckets ---

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "name")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.CreateBucket(r.Context(), p[0]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": p[0]})
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.ListBuckets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBucket(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- objects ---

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket")
	if err != nil {
		writeError(w, r, err)
		return
	}
	objs, err := s.svc.ListObjects(r.Context(), p[0], r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	writeJSON(w, http.StatusOK, keys)
}

// upload writes the "file" field of a multipart form in one request. The
// key defaults to the uploaded file name.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket")
	if err != nil {
		writeError(w, r, err)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, formError(err))
		return
	}
	defer file.Close()

	key := r.URL.Query().Get("key")
	if key == "" {
		key = hdr.Filename
	}

	info, err := s.svc.PutObject(r.Context(), gateway.Upload{
		Bucket:      p[0],
		Key:         key,
		Body:        file,
		Size:        hdr.Size,
		ContentType: partType(hdr.Header.Get("Content-Type")),
		UploadedBy:  r.Header.Get(HeaderUploadedBy),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket", "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	obj, err := s.svc.GetObject(r.Context(), p[0], p[1])
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer obj.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(p[1])}))
	if info := obj.Info(); info != nil && info.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		reqLog(r).WarnWith("download interrupted", err, map[string]any{"bucket": p[0], "key": p[1]})
	}
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket", "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteObject(r.Context(), p[0], p[1]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) copyObject(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "srcBucket", "srcKey", "dstBucket", "dstKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.svc.CopyObject(r.Context(), p[0], p[1], p[2], p[3])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// presignResponse is returned by both presign routes.
type presignResponse struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

func (s *Server) presignGet(w http.ResponseWriter, r *http.Request) {
	s.presign(w, r, s.svc.PresignGet)
}

func (s *Server) presignPut(w http.ResponseWriter, r *http.Request) {
	s.presign(w, r, s.svc.PresignPut)
}

type presignFunc func(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Duration, error)

// presign reads an optional "minutes" lifetime; absent means the service
// default.
func (s *Server) presign(w http.ResponseWriter, r *http.Request, fn presignFunc) {
	p, err := query(r, "bucket", "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var ttl time.Duration
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errs.Invalidf("minutes must be a positive integer, got %q", v))
			return
		}
		ttl = time.Duration(n) * time.Minute
	}

	u, ttl, err := fn(r.Context(), p[0], p[1], ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{URL: u, ExpiresIn: int64(ttl / time.Second)})
}

// partType drops the generic type browsers send for unknown files so the
// body is sniffed instead.
func partType(ct string) string {
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return errs.Wrap(errs.ErrKindInvalidInput, "multipart form with a \"file\" field is required", err)
}
