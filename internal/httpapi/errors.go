package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"postwise.io/internal/auth"
	"postwise.io/internal/obs"
	"postwise.io/internal/social"
)

// handleSocialError maps domain errors onto HTTP responses.
func handleSocialError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing      *social.CredentialMissingError
		expired      *social.CredentialExpiredError
		precondition *social.PreconditionError
		publishErr   *social.PublishError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		unauthorized(w, r, "Unauthorized")
	case errors.As(err, &expired):
		writeError(w, r, http.StatusUnauthorized, expired.Error())
	case errors.As(err, &missing):
		writeError(w, r, http.StatusBadRequest, missing.Error())
	case errors.Is(err, social.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Content not found")
	case errors.Is(err, social.ErrStatusConflict):
		writeError(w, r, http.StatusConflict, "Content is already being published or was published")
	case errors.Is(err, social.ErrUnsupportedPlatform):
		writeError(w, r, http.StatusBadRequest, "Unsupported platform")
	case errors.Is(err, social.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &publishErr):
		if errors.As(err, &precondition) {
			writeError(w, r, http.StatusBadRequest, publishErr.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, publishErr.Error())
	default:
		obs.Logger().WithError(err).Error("unhandled request error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
