package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Content part types.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

var errInvalidContent = errors.New("invalid message content")

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Content is either plain text or an ordered list of parts.
// Parts is non-nil only when the message used the array form.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent wraps a list of parts.
func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

// IsMultiPart reports whether the content used the array form.
func (c Content) IsMultiPart() bool {
	return c.Parts != nil
}

// PlainText flattens the content into text, dropping non-text parts.
func (c Content) PlainText() string {
	if !c.IsMultiPart() {
		return c.Text
	}
	var builder strings.Builder
	for _, part := range c.Parts {
		if part.Type == PartTypeText {
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}

// Images returns the image references in order.
func (c Content) Images() []ImageURL {
	var out []ImageURL
	for _, part := range c.Parts {
		if part.Type == PartTypeImageURL && part.ImageURL != nil && part.ImageURL.URL != "" {
			out = append(out, *part.ImageURL)
		}
	}
	return out
}

// MarshalJSON writes the string or array form.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultiPart() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing content", errInvalidContent)
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("%w: %v", errInvalidContent, err)
		}
		*c = TextContent(text)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("%w: %v", errInvalidContent, err)
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return fmt.Errorf("%w: content must be string or array", errInvalidContent)
	}
}
