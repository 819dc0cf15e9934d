package daemon

import (
	"encoding/json"
	"net/http"

	"clawgate/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError renders an error as the OpenAI-style envelope clients
// of the /v1 surface expect.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	errType := "server_error"
	message := err.Error()
	var code *string
	if svcErr, ok := err.(*ServiceError); ok {
		switch svcErr.Kind {
		case ServiceErrorInvalid:
			status = http.StatusBadRequest
			errType = "invalid_request_error"
		case ServiceErrorNotFound:
			status = http.StatusNotFound
			errType = "invalid_request_error"
		case ServiceErrorConflict:
			status = http.StatusConflict
			errType = "invalid_request_error"
		case ServiceErrorTimeout:
			status = http.StatusGatewayTimeout
			errType = "timeout_error"
		case ServiceErrorUnavailable:
			status = http.StatusInternalServerError
			errType = "server_error"
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
		if svcErr.Code != "" {
			value := svcErr.Code
			code = &value
		}
	}
	writeJSON(w, status, types.ErrorEnvelope{Error: types.ErrorBody{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}
