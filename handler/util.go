package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	referral "github.com/phbpx/referral-api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// decodeSubmission reads a JSON object from the body, falling back to form
// values. When neither yields a known key the error wraps
// referral.ErrMalformedBody.
func decodeSubmission(r *http.Request, maxBytes int64) (referral.Submission, error) {
	var sub referral.Submission

	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err != nil {
		return sub, fmt.Errorf("%w: %v", referral.ErrMalformedBody, err)
	}

	if n := decodeJSON(raw, &sub); n > 0 {
		return sub, nil
	}

	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err := r.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return sub, fmt.Errorf("%w: %v", referral.ErrMalformedBody, err)
	}

	found := 0
	for key, values := range r.PostForm {
		if len(values) > 0 && sub.Set(key, values[0]) {
			found++
		}
	}
	if found == 0 {
		return sub, referral.ErrMalformedBody
	}
	return sub, nil
}

// decodeJSON fills sub from a JSON object and returns how many known keys it
// set. Anything after the object makes the whole body invalid. Strings and numbers are accepted; anything else counts as absent.
func decodeJSON(raw []byte, sub *referral.Submission) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return 0
	}
	if _, err := dec.Token(); err != io.EOF {
		return 0
	}

	found := 0
	for key, v := range fields {
		var value string
		switch v := v.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		default:
			continue
		}
		if sub.Set(key, value) {
			found++
		}
	}
	return found
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

type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode int    `json:"error_code"`
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, msg string) {
	respond(ctx, rw, status, errorResponse{
		Success:   false,
		Message:   msg,
		ErrorCode: status,
	})
}
