package rpc

import (
	"context"
	"encoding/json"
	"strings"
)

// ResultKind indicates the shape of a normalized invocation result.
type ResultKind int

const (
	// ResultStructured is a mapping payload from a successful operation.
	ResultStructured ResultKind = iota
	// ResultText is a plain-text payload from a successful operation.
	ResultText
	// ResultError is an operation-level failure rendered as readable text.
	// It is a normal result, never a transport fault, so an upstream
	// decision-maker can read it and react instead of crashing.
	ResultError
)

// Result is the uniform value every invocation normalizes into.
type Result struct {
	Kind       ResultKind
	Structured map[string]any
	Text       string
}

// StructuredResult wraps a mapping payload.
func StructuredResult(m map[string]any) Result {
	return Result{Kind: ResultStructured, Structured: m}
}

// TextResult wraps a plain-text payload.
func TextResult(s string) Result {
	return Result{Kind: ResultText, Text: s}
}

// ErrorResult wraps an operation failure as readable text.
func ErrorResult(msg string) Result {
	return Result{Kind: ResultError, Text: msg}
}

// IsError reports whether the invoked operation reported failure.
func (r Result) IsError() bool { return r.Kind == ResultError }

// AsMap returns the structured payload, or false for text and error results.
func (r Result) AsMap() (map[string]any, bool) {
	if r.Kind == ResultStructured {
		return r.Structured, true
	}
	return nil, false
}

// Field looks up a top-level key of a structured result.
func (r Result) Field(name string) (any, bool) {
	if r.Kind != ResultStructured {
		return nil, false
	}
	v, ok := r.Structured[name]
	return v, ok
}

// Value returns the payload as a context-friendly value: the mapping for
// structured results, the text otherwise.
func (r Result) Value() any {
	if r.Kind == ResultStructured {
		return r.Structured
	}
	return r.Text
}

func (r Result) String() string {
	if r.Kind == ResultStructured {
		buf, err := json.Marshal(r.Structured)
		if err != nil {
			return ""
		}
		return string(buf)
	}
	return r.Text
}

// NormalizeResult folds a raw result payload into a Result. Tool-hosting
// peers reply in one of two shapes: a bare object, or a content-block list
// {"content":[{"type":"text","text":...}]}. Joined text that parses as a
// JSON object is surfaced structured so workflow templating can reach into
// it.
func NormalizeResult(raw json.RawMessage) Result {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		var text string
		if json.Unmarshal(raw, &text) == nil {
			return TextResult(text)
		}
		return TextResult(string(raw))
	}

	blocks, ok := payload["content"].([]any)
	if !ok {
		return StructuredResult(payload)
	}

	var parts []string
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n"))
	if joined == "" {
		return StructuredResult(payload)
	}

	var structured map[string]any
	if err := json.Unmarshal([]byte(joined), &structured); err == nil {
		return StructuredResult(structured)
	}
	return TextResult(joined)
}

// Invoker is the boundary every higher layer calls operations through: the
// bridge's capability invoker on one side of the process boundary, the
// toolkit registry's in-process dispatcher on the other.
type Invoker interface {
	Invoke(ctx context.Context, op string, args map[string]any) (Result, error)
}
