// Package checkouterr turns the error shapes checkout collaborators produce into
// one user-facing message.
package checkouterr

import (
	"errors"
	"strings"
)

// Fallback is shown when no message can be extracted.
const Fallback = "An unexpected error occurred. Please try again."

// ResponseMessager is implemented by errors that carry a message from a
// response body, which takes priority over the error's own text.
type ResponseMessager interface {
	ResponseMessage() string
}

// Message normalizes strings, errors, and decoded JSON error bodies shaped like
// {message} or {response:{data:{message}}}. response.data.message wins over message.
func Message(v any) string {
	switch e := v.(type) {
	case nil:
		return Fallback
	case string:
		return orFallback(e)
	case map[string]any:
		if msg := nestedString(e, "response", "data", "message"); msg != "" {
			return msg
		}
		if msg := nestedString(e, "message"); msg != "" {
			return msg
		}
		return Fallback
	case error:
		var rm ResponseMessager
		if errors.As(e, &rm) {
			if msg := strings.TrimSpace(rm.ResponseMessage()); msg != "" {
				return msg
			}
		}
		return orFallback(e.Error())
	default:
		return Fallback
	}
}

func nestedString(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

func orFallback(s string) string {
	if strings.TrimSpace(s) == "" {
		return Fallback
	}
	return s
}
