package handler

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"payments-portal/internal/errors"
)

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// responder writes the JSON envelope. Error details are only exposed when
// verbose is set (development mode).
type responder struct {
	logger  *slog.Logger
	verbose bool
}

func (rs responder) writeJSON(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(Response{Success: true, Message: message, Data: data})
}

// writeError renders err as a failure envelope. Foreign errors are treated
// as storage faults. Error metadata is flattened into the body so clients
// see e.g. remaining_attempts next to the error code.
func (rs responder) writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.NewStorageFault("complete request", err)
	}

	statusCode := appErr.HTTPStatus()
	if statusCode >= http.StatusInternalServerError {
		rs.logger.Error("Request failed", "code", appErr.Code, "message", appErr.Message, "details", appErr.Details)
	}

	body := map[string]interface{}{}
	for k, v := range appErr.Meta {
		body[k] = v
	}
	body["success"] = false
	body["error"] = appErr.Code
	body["message"] = appErr.Message
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	if rs.verbose && appErr.Details != "" {
		body["details"] = appErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a request body into dst. An empty body is accepted when
// optional is set.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && stderrors.Is(err, io.EOF)) {
		return nil
	}
	return errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error())
}
