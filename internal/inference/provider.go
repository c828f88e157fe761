package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	ErrMalformedOutput     = errors.New("inference output is not valid JSON")
)

// Schema is a JSON Schema document describing the expected output.
type Schema map[string]any

// Provider turns a prompt into a structured JSON document. Implementations
// may fail or return content that does not honour the schema.
type Provider interface {
	Infer(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)
}

type ProviderFunc func(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)

func (f ProviderFunc) Infer(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	return f(ctx, prompt, schema)
}

type unavailable struct{}

// Unavailable always fails. It stands in when no endpoint is configured.
func Unavailable() Provider { return unavailable{} }

func (unavailable) Infer(context.Context, string, Schema) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: no endpoint configured", ErrProviderUnavailable)
}

// ExtractJSON strips markdown code fences and surrounding prose and returns
// the first JSON object in text.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if !json.Valid([]byte(s)) {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, ErrMalformedOutput
		}
		s = s[start : end+1]
		if !json.Valid([]byte(s)) {
			return nil, ErrMalformedOutput
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Decode unmarshals raw into v. The schema's top-level required keys must be
// present; keys the schema does not describe are ignored.
func Decode(raw json.RawMessage, schema Schema, v any) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, ok := top[key]; !ok {
				return fmt.Errorf("%w: missing %q", ErrMalformedOutput, key)
			}
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
