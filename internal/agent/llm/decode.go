package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	errx "github.com/Sensemaking-core/server/internal/core/error"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// NotPossibleKey is the wire key a model uses to decline a request.
const NotPossibleKey = "NOT POSSIBLE"

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200
)

// ExtractJSON strips code fences and surrounding prose, returning the outermost JSON object.
func ExtractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if len(s) > maxContentLen {
		return "", errx.Malformed("content too large (%d bytes)", len(s))
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errx.Malformed("no json object in %q", safeSnippet(content))
	}
	return s[start : end+1], nil
}

// Decode parses a model reply into T. A {"NOT POSSIBLE": reason} reply becomes an
// errx.UnavailableError; anything that is not a JSON object becomes ErrMalformedOutput.
func Decode[T any](content string) (out T, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "llm_decode").Msgf("panic recovered: %v", r)
			var zero T
			out = zero
			err = errx.New(fmt.Errorf("decode panic: %v", r), http.StatusInternalServerError, errx.SystemErrorMessage)
		}
	}()

	raw, err := ExtractJSON(content)
	if err != nil {
		return out, err
	}
	if reason, ok := NotPossible(raw); ok {
		return out, errx.Unavailable(reason)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, errx.Malformed("decode %T: %v", out, err)
	}
	return out, nil
}

// NotPossible reports whether a JSON object carries the NOT POSSIBLE key, and its reason.
func NotPossible(raw string) (string, bool) {
	var m map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(&m); err != nil {
		return "", false
	}
	for k, v := range m {
		if !strings.EqualFold(strings.TrimSpace(k), NotPossibleKey) {
			continue
		}
		var reason string
		if err := json.Unmarshal(v, &reason); err != nil {
			reason = strings.Trim(string(v), `"`)
		}
		return strings.TrimSpace(reason), true
	}
	return "", false
}

// RequireField rejects empty required string fields.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errx.Malformed("missing field %q", name)
	}
	return nil
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
