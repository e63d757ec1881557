package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJSON is returned when a model response contains no parseable
// JSON document of the expected shape.
var ErrInvalidJSON = errors.New("no valid JSON document in model response")

// ErrStreamInterrupted is returned when the provider terminates a stream
// with an error chunk before completion.
var ErrStreamInterrupted = errors.New("model stream interrupted")

// Response holds the fully-collected output of a streaming call.
type Response struct {
	Text     string
	Thinking string
	Usage    *UsageChunk
}

// StreamCallback is called for each content chunk during collection. Used to
// forward real-time deltas to event bus observers. delta is the new content
// from this chunk only, not the accumulated text.
type StreamCallback func(chunkType ChunkType, delta string)

// Collect drains a chunk channel into a complete Response. Returns an error
// if an ErrorChunk is received.
func Collect(stream <-chan Chunk) (*Response, error) {
	return CollectWithCallback(stream, nil)
}

// CollectWithCallback collects a stream while calling back for real-time
// delivery. The callback is optional (nil = buffered mode, same as Collect).
func CollectWithCallback(stream <-chan Chunk, callback StreamCallback) (*Response, error) {
	resp := &Response{}
	var textBuf, thinkingBuf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			if callback != nil {
				callback(ChunkTypeText, c.Content)
			}
		case *ThinkingChunk:
			thinkingBuf.WriteString(c.Content)
			if callback != nil {
				callback(ChunkTypeThinking, c.Content)
			}
		case *UsageChunk:
			resp.Usage = c
		case *ErrorChunk:
			return nil, fmt.Errorf("%w: %s (code: %s, retryable: %v)",
				ErrStreamInterrupted, c.Message, c.Code, c.Retryable)
		}
	}

	resp.Text = textBuf.String()
	resp.Thinking = thinkingBuf.String()
	return resp, nil
}

// ExtractJSON finds the first balanced JSON object or array in text and
// unmarshals it into v. Models often wrap JSON in prose or markdown fences,
// so plain json.Unmarshal on the full text is not enough.
func ExtractJSON(text string, v any) error {
	doc, err := firstJSONDocument(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// firstJSONDocument scans for the first balanced top-level {} or [] block,
// honoring strings and escape sequences.
func firstJSONDocument(text string) (string, error) {
	start := -1
	var open, closing byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				closing = '}'
			} else {
				closing = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", ErrInvalidJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced document", ErrInvalidJSON)
}
