package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/multipart"
)

// errorBody is the JSON document returned for every failed request.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to the HTTP status returned for it.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindConflict:
		return http.StatusConflict
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: errs.KindOf(err).String()}
	if stage := multipart.StageOf(err); stage != 0 {
		body.Stage = stage.String()
	}

	fields := map[string]any{"status": status, "kind": body.Kind}
	if body.Stage != "" {
		fields["stage"] = body.Stage
	}
	if status >= http.StatusInternalServerError {
		reqLog(r).ErrorWith("request failed", err, fields)
	} else {
		reqLog(r).DebugWith("request rejected", fields)
	}
	writeJSON(w, status, body)
}
