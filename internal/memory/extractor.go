// Package memory implements the client for the inference backend's
// fact-extraction endpoint. Extraction is best-effort enrichment: callers
// run it in the background and never let its failures reach the chat turn.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
)

// extractPath is the extraction endpoint on the inference backend.
const extractPath = "/api/memory/extract"

// WindowSize bounds how many recent turns are sent for extraction.
const WindowSize = 10

// MinMessages is the minimum conversation length worth extracting from.
const MinMessages = 2

// Request is the extraction request body.
type Request struct {
	Messages      []domain.TurnMessage `json:"messages"`
	CurrentMemory *domain.UserMemory   `json:"current_memory,omitempty"`
}

// Result is the extraction response body.
type Result struct {
	UpdatedMemory  domain.UserMemory `json:"updated_memory"`
	ExtractedFacts []string          `json:"extracted_facts"`
}

// Extractor calls the extraction endpoint.
type Extractor struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExtractor creates an extraction client.
func NewExtractor(baseURL string, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Window returns the last WindowSize entries of msgs.
func Window(msgs []domain.TurnMessage) []domain.TurnMessage {
	if len(msgs) <= WindowSize {
		return msgs
	}
	return msgs[len(msgs)-WindowSize:]
}

// Extract requests fact extraction over the given turns. The caller is
// expected to pass an already-windowed history (see Window).
func (e *Extractor) Extract(ctx context.Context, msgs []domain.TurnMessage, current *domain.UserMemory) (*Result, error) {
	body, err := json.Marshal(Request{Messages: msgs, CurrentMemory: current})
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+extractPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction endpoint: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.logger.Debug("failed to close extraction response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction endpoint rejected: status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	return &result, nil
}
