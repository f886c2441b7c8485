package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// ShapeKind enumerates the expected structures of provider output.
type ShapeKind int

const (
	// ShapeJSONObject expects a single JSON object with required keys.
	ShapeJSONObject ShapeKind = iota
	// ShapeStringArray expects a JSON array of strings, optionally wrapped
	// in an object under a declared key.
	ShapeStringArray
	// ShapeFreeText expects non-empty plain text.
	ShapeFreeText
	// ShapeBinaryImage expects decodable image bytes (raw or base64 text).
	ShapeBinaryImage
)

// Shape declares the structure a provider response must satisfy. Parsing
// fails closed: malformed output is a contract violation by the provider and
// is surfaced verbatim as a *FormatError, never repaired or guessed at.
type Shape struct {
	Kind         ShapeKind
	RequiredKeys []string
	WrapperKey   string
	MinItems     int
	MinLen       int
}

// StrictJSONObject expects a JSON object carrying every one of the given keys.
func StrictJSONObject(requiredKeys ...string) Shape {
	return Shape{Kind: ShapeJSONObject, RequiredKeys: requiredKeys}
}

// StringArray expects a JSON array of at least minItems strings. When
// wrapperKey is non-empty the array may instead appear as that field of a
// JSON object, which is how the provider is prompted to answer.
func StringArray(wrapperKey string, minItems int) Shape {
	return Shape{Kind: ShapeStringArray, WrapperKey: wrapperKey, MinItems: minItems}
}

// FreeText expects plain text of at least minLen characters after trimming.
func FreeText(minLen int) Shape {
	return Shape{Kind: ShapeFreeText, MinLen: minLen}
}

// BinaryImage expects image bytes, raw or base64-encoded.
func BinaryImage() Shape {
	return Shape{Kind: ShapeBinaryImage}
}

// Normalized is the validated, shape-checked representation of a provider's
// raw output. Exactly one of Text, Object, List, or Bytes is populated,
// matching Kind.
type Normalized struct {
	Kind   ShapeKind
	Text   string
	Object map[string]any
	List   []string
	Bytes  []byte
	Mime   string
}

// Parse validates raw provider output against the expected shape. raw is a
// string for text operations or an ImageResult for image operations.
func Parse(raw any, shape Shape) (Normalized, error) {
	switch shape.Kind {
	case ShapeJSONObject:
		return parseJSONObject(rawText(raw), shape)
	case ShapeStringArray:
		return parseStringArray(rawText(raw), shape)
	case ShapeFreeText:
		return parseFreeText(rawText(raw), shape)
	case ShapeBinaryImage:
		return parseBinaryImage(raw)
	default:
		return Normalized{}, &FormatError{Reason: fmt.Sprintf("unknown shape kind %d", shape.Kind)}
	}
}

func rawText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func parseJSONObject(raw string, shape Shape) (Normalized, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Normalized{}, &FormatError{Reason: "empty response", Raw: raw}
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
		return Normalized{}, &FormatError{Reason: fmt.Sprintf("not a JSON object: %v", err), Raw: raw}
	}
	for _, key := range shape.RequiredKeys {
		if _, ok := object[key]; !ok {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("missing required key %q", key), Raw: raw}
		}
	}
	return Normalized{Kind: ShapeJSONObject, Object: object}, nil
}

func parseStringArray(raw string, shape Shape) (Normalized, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Normalized{}, &FormatError{Reason: "empty response", Raw: raw}
	}

	var items []string
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		if shape.WrapperKey == "" {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("not a string array: %v", err), Raw: raw}
		}
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("not a string array or object: %v", err), Raw: raw}
		}
		inner, ok := wrapper[shape.WrapperKey]
		if !ok {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("missing required key %q", shape.WrapperKey), Raw: raw}
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("key %q is not a string array: %v", shape.WrapperKey, err), Raw: raw}
		}
	}

	if len(items) < shape.MinItems {
		return Normalized{}, &FormatError{
			Reason: fmt.Sprintf("expected at least %d items, got %d", shape.MinItems, len(items)),
			Raw:    raw,
		}
	}
	return Normalized{Kind: ShapeStringArray, List: items}, nil
}

func parseFreeText(raw string, shape Shape) (Normalized, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Normalized{}, &FormatError{Reason: "empty response", Raw: raw}
	}
	if len(trimmed) < shape.MinLen {
		return Normalized{}, &FormatError{
			Reason: fmt.Sprintf("expected at least %d characters, got %d", shape.MinLen, len(trimmed)),
			Raw:    raw,
		}
	}
	return Normalized{Kind: ShapeFreeText, Text: trimmed}, nil
}

func parseBinaryImage(raw any) (Normalized, error) {
	var payload []byte
	mime := "image/png"

	switch v := raw.(type) {
	case ImageResult:
		payload = v.Bytes
		if v.MimeType != "" {
			mime = v.MimeType
		}
	case []byte:
		payload = v
	case string:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return Normalized{}, &FormatError{Reason: fmt.Sprintf("invalid base64 image payload: %v", err)}
		}
		payload = decoded
	}

	if len(payload) == 0 {
		return Normalized{}, &FormatError{Reason: "missing image payload"}
	}
	if _, err := imaging.Decode(bytes.NewReader(payload)); err != nil {
		return Normalized{}, &FormatError{Reason: fmt.Sprintf("payload is not a decodable image: %v", err)}
	}
	return Normalized{Kind: ShapeBinaryImage, Bytes: payload, Mime: mime}, nil
}
