package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errBodyTooLarge = errors.New("request body too large")

// decode reads at most limit bytes of JSON from the request body.
func decode(rw http.ResponseWriter, r *http.Request, into interface{}, limit int64) error {
	body := io.Reader(r.Body)
	if limit > 0 {
		body = http.MaxBytesReader(rw, r.Body, limit)
	}

	rawJson, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errBodyTooLarge
		}
		return err
	}
	return json.Unmarshal(rawJson, into)
}

func respond(ctx context.Context, rw http.ResponseWriter, status int, data interface{}) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "handler.respond")
	span.SetAttributes(attribute.Int("http.status", status))
	defer span.End()

	if status == http.StatusNoContent || data == nil {
		rw.WriteHeader(status)
		return
	}

	rawJson, err := json.Marshal(data)
	if err != nil {
		panic("respond-json-marshal:" + err.Error())
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(rawJson)
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	respond(ctx, rw, status, errorResponse{
		Code:  http.StatusText(status),
		Error: err.Error(),
	})
}

func respondRetryable(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	respond(ctx, rw, status, errorResponse{
		Code:      http.StatusText(status),
		Error:     err.Error(),
		Retryable: true,
	})
}

// Health reports that the process is serving requests.
func Health(rw http.ResponseWriter, r *http.Request) {
	respond(r.Context(), rw, http.StatusOK, map[string]bool{"ok": true})
}
