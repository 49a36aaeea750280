package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMalformedJSON = errors.New("model reply is not valid JSON")
	ErrInvalidImage  = errors.New("generated image could not be decoded")
)

// TextGenerator produces JSON replies from a system and a user prompt.
type TextGenerator interface {
	GenerateJSON(ctx context.Context, system, user string) ([]byte, error)
}

// ImageGenerator renders a prompt to encoded image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ExtractJSON strips markdown fences and surrounding chatter from a model
// reply and returns the JSON object it holds.
func ExtractJSON(reply string) ([]byte, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if !json.Valid([]byte(s)) {
		start := strings.IndexByte(s, '{')
		end := strings.LastIndexByte(s, '}')
		if start < 0 || end <= start {
			return nil, ErrMalformedJSON
		}
		s = s[start : end+1]
	}
	out := []byte(s)
	if !json.Valid(out) || !bytes.HasPrefix(out, []byte("{")) {
		return nil, ErrMalformedJSON
	}
	return out, nil
}
