// Package parsers extracts structured payloads from raw model output.
package parsers

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// ClarifyPayload is the terminal JSON object the clarification model emits
// once it considers the user's question well formed.
type ClarifyPayload struct {
	IsRelevant bool   `json:"is_relevant"`
	UserQuery  string `json:"user_query"`
}

// ParseClarifyPayload attempts a strict parse of the clarifier reply. The
// reply counts as a payload only when the whole trimmed content is a single
// JSON object with exactly the expected keys; anything else (greetings,
// follow-up questions, prose around the JSON) returns ok=false and the reply
// is treated as another conversational turn.
func ParseClarifyPayload(content string) (*ClarifyPayload, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()

	var payload ClarifyPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}

	// Reject trailing tokens after the object, e.g. a second JSON document.
	if dec.More() {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}

	if payload.IsRelevant && strings.TrimSpace(payload.UserQuery) == "" {
		return nil, false
	}

	return &payload, true
}
