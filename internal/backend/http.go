// Package backend connects the service to the inference sidecar that runs the
// speech model.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/tts-stream-service/internal/audio"
	"github.com/book-expert/tts-stream-service/internal/core"
)

// API endpoints and paths.
const (
	apiHealth         = "/health"
	apiLoadModel      = "/v1/models/load"
	apiUnloadModel    = "/v1/models/unload"
	apiGenerateStream = "/v1/generate/stream"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
)

var (
	// ErrModelNotLoaded is returned by Generate before a successful Load.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrTextEmpty is returned for a blank generation request.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrStreamAborted is returned when the sidecar reports an error mid-stream.
	ErrStreamAborted = errors.New("inference stream aborted")
)

// Health is the sidecar's health report.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

type loadRequest struct {
	ModelPath string `json:"model_path"`
}

type generateRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// frame is one NDJSON line of a generation stream. Audio is base64 s16le PCM.
type frame struct {
	Audio          []byte               `json:"audio"`
	WordTimestamps []core.WordTimestamp `json:"word_timestamps"`
	Error          string               `json:"error"`
}

type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPBackend is a core.Backend served by the inference sidecar. Control calls
// are bounded by the configured timeout; generation streams are bounded only by
// their context.
type HTTPBackend struct {
	control *http.Client
	stream  *http.Client
	baseURL string

	mu     sync.RWMutex
	loaded bool
	device string
}

// NewHTTPBackend creates a backend for the sidecar at baseURL, e.g.
// "http://localhost:8000".
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		control: &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		baseURL: baseURL,
		mu:      sync.RWMutex{},
		loaded:  false,
		device:  "",
	}
}

// Health queries the sidecar and refreshes the cached load state.
func (b *HTTPBackend) Health(ctx context.Context) (Health, error) {
	var health Health

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return health, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.control.Do(req)
	if err != nil {
		return health, fmt.Errorf("health check failed for service at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, parseErrorResponse(resp)
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(&health)
	if decodeErr != nil {
		return health, fmt.Errorf("failed to decode health response: %w", decodeErr)
	}

	b.setState(health.ModelLoaded, health.Device)

	return health, nil
}

// Load asks the sidecar to load the model at path.
func (b *HTTPBackend) Load(ctx context.Context, path string) error {
	var health Health

	err := b.postJSON(ctx, apiLoadModel, loadRequest{ModelPath: path}, &health)
	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", path, err)
	}

	b.setState(true, health.Device)

	return nil
}

// Unload asks the sidecar to release the model.
func (b *HTTPBackend) Unload(ctx context.Context) error {
	err := b.postJSON(ctx, apiUnloadModel, struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("failed to unload model: %w", err)
	}

	b.setState(false, b.Device())

	return nil
}

// IsLoaded reports the last known load state.
func (b *HTTPBackend) IsLoaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.loaded
}

// Device returns the device the sidecar reported, e.g. "cuda" or "cpu".
func (b *HTTPBackend) Device() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.device
}

// Generate opens a generation stream. The returned iterator owns the response
// body and must be closed.
func (b *HTTPBackend) Generate(ctx context.Context, text, voice string, speed float64) (core.ChunkIterator, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	if !b.IsLoaded() {
		return nil, ErrModelNotLoaded
	}

	body, err := json.Marshal(generateRequest{Text: text, Voice: voice, Speed: speed})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+apiGenerateStream, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeNDJSON)

	resp, err := b.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", b.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return &frameIterator{
		body:    resp.Body,
		decoder: json.NewDecoder(resp.Body),
		once:    sync.Once{},
	}, nil
}

func (b *HTTPBackend) setState(loaded bool, device string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loaded = loaded
	if device != "" {
		b.device = device
	}
}

func (b *HTTPBackend) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := b.control.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to inference service at %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the sidecar and falls
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp errorResponse

	err := json.Unmarshal(raw, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(raw))
}

// frameIterator reads one chunk per NDJSON line.
type frameIterator struct {
	body    io.ReadCloser
	decoder *json.Decoder
	once    sync.Once
}

func (it *frameIterator) Next(ctx context.Context) (core.AudioChunk, error) {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return core.AudioChunk{}, fmt.Errorf("generation canceled: %w", ctxErr)
	}

	var line frame

	err := it.decoder.Decode(&line)
	if errors.Is(err, io.EOF) {
		return core.AudioChunk{}, io.EOF
	}

	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("failed to decode audio frame: %w", err)
	}

	if line.Error != "" {
		return core.AudioChunk{}, fmt.Errorf("%w: %s", ErrStreamAborted, line.Error)
	}

	return core.AudioChunk{
		Samples:        audio.SamplesFromBytes(line.Audio),
		WordTimestamps: line.WordTimestamps,
		Output:         nil,
	}, nil
}

func (it *frameIterator) Close() error {
	var closeErr error

	it.once.Do(func() {
		closeErr = it.body.Close()
	})

	return closeErr
}
