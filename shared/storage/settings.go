package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	keyAPIKey = "GEMINI_API_KEY"
	keyModel  = "GEMINI_MODEL"
)

// Settings persists the viewer-supplied Gemini credential and model
type Settings struct {
	kv KV
}

func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv}
}

// APIKey returns the stored credential, or "" when none was saved
func (s *Settings) APIKey(ctx context.Context) (string, error) {
	return s.get(ctx, keyAPIKey)
}

// Model returns the stored model identifier, or "" when none was saved
func (s *Settings) Model(ctx context.Context) (string, error) {
	return s.get(ctx, keyModel)
}

// Save stores the credential and model. An empty model clears the override.
func (s *Settings) Save(ctx context.Context, apiKey, model string) error {
	apiKey = strings.TrimSpace(apiKey)
	model = strings.TrimSpace(model)
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := s.kv.Set(ctx, keyAPIKey, []byte(apiKey)); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}
	if model == "" {
		if err := s.kv.Delete(ctx, keyModel); err != nil {
			return fmt.Errorf("failed to clear model: %w", err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, keyModel, []byte(model)); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

func (s *Settings) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(v), nil
}
