package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: body}

	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Message = strings.TrimSpace(payload.Message)
		if e.Message == "" && len(payload.Error) > 0 {
			var s string
			if json.Unmarshal(payload.Error, &s) == nil {
				e.Message = strings.TrimSpace(s)
			} else {
				var obj struct {
					Message string `json:"message"`
				}
				if json.Unmarshal(payload.Error, &obj) == nil {
					e.Message = strings.TrimSpace(obj.Message)
				}
			}
		}
	}
	return e
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform API error (%d): %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ResponseMessage is the message returned in the response body, if any.
func (e *APIError) ResponseMessage() string {
	return e.Message
}

// ClientError reports whether the platform rejected the request itself.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
