package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-stream-service/internal/server"
)

const (
	apiSpeech   = "/v1/audio/speech"
	apiVoices   = "/v1/audio/voices"
	apiModels   = "/v1/models"
	apiHealth   = "/health"
	apiPrefix   = "/v1"
	contentJSON = "application/json"

	headerDownloadPath   = "X-Download-Path"
	headerDownloadStatus = "X-Download-Status"
)

// ErrAPI wraps every non-2xx reply from the service.
var ErrAPI = errors.New("tts service returned an error")

// apiClient talks to a running tts-stream-service.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// speechResult describes a finished synthesis.
type speechResult struct {
	Bytes          int64
	DownloadPath   string
	DownloadStatus string
}

// speak posts request and copies the audio body into out as it arrives.
func (c *apiClient) speak(ctx context.Context, request server.SpeechRequest, out io.Writer) (speechResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return speechResult{}, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, apiSpeech, bytes.NewReader(body))
	if err != nil {
		return speechResult{}, err
	}

	defer func() { _ = resp.Body.Close() }()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return speechResult{Bytes: written}, fmt.Errorf("audio stream interrupted after %d bytes: %w", written, err)
	}

	status := resp.Header.Get(headerDownloadStatus)
	if status == "" {
		status = resp.Trailer.Get(headerDownloadStatus)
	}

	return speechResult{
		Bytes:          written,
		DownloadPath:   resp.Header.Get(headerDownloadPath),
		DownloadStatus: status,
	}, nil
}

func (c *apiClient) voices(ctx context.Context) ([]string, error) {
	var list server.VoiceList

	err := c.getJSON(ctx, apiVoices, &list)
	if err != nil {
		return nil, err
	}

	return list.Voices, nil
}

func (c *apiClient) models(ctx context.Context) ([]server.Model, error) {
	var list server.ModelList

	err := c.getJSON(ctx, apiModels, &list)
	if err != nil {
		return nil, err
	}

	return list.Data, nil
}

func (c *apiClient) health(ctx context.Context) (server.HealthResponse, error) {
	var health server.HealthResponse

	err := c.getJSON(ctx, apiHealth, &health)

	return health, err
}

// download fetches a file by its download path (as returned in
// X-Download-Path) or bare file name.
func (c *apiClient) download(ctx context.Context, path string, out io.Writer) (int64, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/download/" + path
	}

	resp, err := c.do(ctx, http.MethodGet, apiPrefix+path, nil)
	if err != nil {
		return 0, err
	}

	defer func() { _ = resp.Body.Close() }()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return written, fmt.Errorf("failed to read download: %w", err)
	}

	return written, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// do sends the request and turns non-2xx replies into ErrAPI errors carrying
// the service's message.
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()

	var apiErr server.ErrorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr)
	if decodeErr != nil || apiErr.Message == "" {
		return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	return nil, fmt.Errorf("%w: status %d: %s (%s)", ErrAPI, resp.StatusCode, apiErr.Message, apiErr.Error)
}
