// Package tts talks to the ElevenLabs text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lhdbsbz/citychat/internal/config"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("tts service configuration error")
	// ErrInvalidVoiceID is returned for voice ids outside [A-Za-z0-9_-].
	ErrInvalidVoiceID = errors.New("invalid voice id")
)

var voiceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidVoiceID reports whether id is safe to place in the request path.
func ValidVoiceID(id string) bool {
	return voiceIDPattern.MatchString(id)
}

type Client struct {
	BaseURL         string
	APIKey          string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	HTTPClient      *http.Client
}

func NewClient(cfg config.ElevenLabsConfig) *Client {
	return &Client{
		BaseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:          cfg.APIKey,
		ModelID:         cfg.ModelID,
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		HTTPClient:      &http.Client{Timeout: 60 * time.Second},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// APIError is a non-2xx answer from ElevenLabs. DetailStatus is detail.status
// from the error body when present.
type APIError struct {
	StatusCode   int
	DetailStatus string
	Body         string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api error (status %d): %s", e.StatusCode, e.Body)
}

// UserMessage is the text shown to callers for this failure.
func (e *APIError) UserMessage() string {
	switch e.DetailStatus {
	case "invalid_voice_id":
		return "Invalid voice ID"
	case "audio_generation_failed":
		return "Audio generation failed"
	default:
		return "Failed to generate speech"
	}
}

// Synthesize returns MPEG audio for text spoken by voiceID.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if c.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if !ValidVoiceID(voiceID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVoiceID, voiceID)
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: c.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.Stability,
			SimilarityBoost: c.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/text-to-speech/"+url.PathEscape(voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		var parsed struct {
			Detail struct {
				Status string `json:"status"`
			} `json:"detail"`
		}
		if json.Unmarshal(data, &parsed) == nil {
			apiErr.DetailStatus = parsed.Detail.Status
		}
		return nil, apiErr
	}
	return data, nil
}
