package server

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/gateway"
	"github.com/koustreak/objgate/internal/journal"
)

// defaultReapAge applies when a reap request names no olderThan.
const defaultReapAge = 24 * time.Hour

// multipartUpload streams the body through the multipart manager. The body
// is either a multipart form whose "file" field holds the payload, or the
// raw payload itself. Nothing is buffered beyond the parts in flight.
func (s *Server) multipartUpload(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := r.URL.Query().Get("key")

	u := gateway.Upload{
		Bucket:     p[0],
		Key:        key,
		Size:       -1,
		UploadedBy: r.Header.Get(HeaderUploadedBy),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		part, err := filePart(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer part.Close()
		if u.Key == "" {
			u.Key = part.FileName()
		}
		u.Body = part
		u.ContentType = partType(part.Header.Get("Content-Type"))
	} else {
		u.Body = r.Body
		u.ContentType = partType(r.Header.Get("Content-Type"))
	}

	res, err := s.svc.MultipartUpload(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// filePart returns the reader positioned on the form's "file" field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, formError(err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errs.New(errs.ErrKindInvalidInput, `multipart form has no "file" field`)
		}
		if err != nil {
			return nil, formError(err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) recentUploads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errs.Invalidf("limit must be a positive integer, got %q", v))
			return
		}
		limit = n
	}
	entries, err := s.svc.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// reap aborts sessions older than olderThan, a Go duration ("90m") or a
// number of hours ("48").
func (s *Server) reap(w http.ResponseWriter, r *http.Request) {
	p, err := query(r, "bucket")
	if err != nil {
		writeError(w, r, err)
		return
	}
	age := defaultReapAge
	if v := strings.TrimSpace(r.URL.Query().Get("olderThan")); v != "" {
		age, err = parseAge(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	report, err := s.svc.ReapIncomplete(r.Context(), p[0], r.URL.Query().Get("prefix"), age)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseAge(v string) (time.Duration, error) {
	if h, err := strconv.Atoi(v); err == nil {
		return time.Duration(h) * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindInvalidInput, "olderThan must be a duration or a number of hours", err)
	}
	return d, nil
}
