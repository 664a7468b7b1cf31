package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DecodeJSONBody decodes a request payload, rejecting unknown fields. An empty
// body yields the zero value.
func DecodeJSONBody[T any](r *http.Request) (T, error) {
	return decode[T](r.Body, true)
}

// DecodeJSONBodyResponse decodes an API response, ignoring fields T does not know.
func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	return decode[T](r.Body, false)
}

func decode[T any](body io.ReadCloser, strict bool) (T, error) {
	var data T
	if body == nil {
		return data, nil
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		var zero T
		return zero, fmt.Errorf("json decode error: %w", err)
	}
	return data, nil
}

func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
