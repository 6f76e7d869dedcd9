package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCredentialPayload marks a payload that carries credential material.
// Bridge messages cross context boundaries over shared transports, so the
// check is structural rather than a naming convention.
var ErrCredentialPayload = fmt.Errorf("payload contains credential material")

var credentialKeys = map[string]bool{
	"token":         true,
	"accesstoken":   true,
	"access_token":  true,
	"refreshtoken":  true,
	"refresh_token": true,
	"apikey":        true,
	"api_key":       true,
	"authorization": true,
	"password":      true,
	"secret":        true,
	"credential":    true,
	"credentials":   true,
	"bearer":        true,
}

var jwtParser = jwt.NewParser()

// scanPayload walks the decoded payload and fails on denylisted key names or
// string values that look like bearer tokens or JWTs. On stream token events
// the "token" key means the text fragment (StreamToken.Token), so only its
// value is scanned there, not the key name.
func scanPayload(event string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return scanValue(event, "", decoded)
}

func scanValue(event, key string, v any) error {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if isCredentialKey(event, k) {
				return fmt.Errorf("%w: field %q", ErrCredentialPayload, k)
			}
			if err := scanValue(event, k, child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range typed {
			if err := scanValue(event, key, child); err != nil {
				return err
			}
		}
	case string:
		if isCredentialValue(typed) {
			return fmt.Errorf("%w: field %q value", ErrCredentialPayload, key)
		}
	}
	return nil
}

func isCredentialKey(event, key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "token" && event == EventStreamToken {
		// StreamToken.Token is the text fragment itself.
		return false
	}
	return credentialKeys[normalized]
}

func isCredentialValue(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 16 {
		return false
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		return true
	}
	// Three dot-separated base64url segments that actually parse as a JWT.
	if strings.Count(trimmed, ".") == 2 && !strings.ContainsAny(trimmed, " \t\n") {
		if _, _, err := jwtParser.ParseUnverified(trimmed, jwt.MapClaims{}); err == nil {
			return true
		}
	}
	return false
}
