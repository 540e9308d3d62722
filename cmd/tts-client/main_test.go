package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/tts-stream-service/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeAudio = []byte("RIFF....WAVEfmt audio-bytes")

// fakeService mimics the routes the client calls and records speech bodies.
type fakeService struct {
	mu       sync.Mutex
	requests []map[string]any
}

func (f *fakeService) lastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.requests) == 0 {
		return nil
	}

	return f.requests[len(f.requests)-1]
}

func startFakeService(t *testing.T) (*fakeService, string) {
	t.Helper()

	service := &fakeService{mu: sync.Mutex{}, requests: nil}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any

		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		service.mu.Lock()
		service.requests = append(service.requests, body)
		service.mu.Unlock()

		if body["input"] == "reject me" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(server.ErrorResponse{
				Error:   "validation_error",
				Message: "Voice 'nobody' not found. Available voices: af_heart",
				Type:    "invalid_request_error",
			})

			return
		}

		if body["return_download_link"] == true {
			w.Header().Set(headerDownloadPath, "/download/tts_abc.wav")
			w.Header().Set("Trailer", headerDownloadStatus)
		}

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(fakeAudio[:8])
		w.(http.Flusher).Flush()
		_, _ = w.Write(fakeAudio[8:])

		if body["return_download_link"] == true {
			w.Header().Set(headerDownloadStatus, "unavailable")
		}
	})

	mux.HandleFunc("GET /v1/audio/voices", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(server.VoiceList{Voices: []string{"af_bella", "af_heart"}})
	})

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(server.ModelList{
			Object: "list",
			Data:   []server.Model{{ID: "tts-1", Object: "model", Created: 1, OwnedBy: "kokoro"}},
		})
	})

	mux.HandleFunc("GET /v1/download/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "tts_abc.wav" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(server.ErrorResponse{
				Error: "not_found", Message: "File not found: " + r.PathValue("name"), Type: "invalid_request_error",
			})

			return
		}

		_, _ = w.Write(fakeAudio)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(server.HealthResponse{
			Status: "healthy", ModelLoaded: true, Device: "cpu", VoiceCount: 2,
		})
	})

	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	return service, httpServer.URL
}

func runClient(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	full := append([]string{args[0], "--server", baseURL, "--log-dir", t.TempDir()}, args[1:]...)
	err := execute(full, &out)

	return out.String(), err
}

func TestSpeak_WritesStreamedAudio(t *testing.T) {
	t.Parallel()

	service, baseURL := startFakeService(t)
	output := filepath.Join(t.TempDir(), "hello.wav")

	stdout, err := runClient(t, baseURL, "speak", "--text", "Hello there.", "--voice", "af_bella+af_heart",
		"--speed", "1.5", "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, fakeAudio, data)
	assert.Contains(t, stdout, "Wrote 27 bytes")

	request := service.lastRequest()
	require.NotNil(t, request)
	assert.Equal(t, "Hello there.", request["input"])
	assert.Equal(t, "af_bella+af_heart", request["voice"])
	assert.Equal(t, "wav", request["response_format"])
	assert.InDelta(t, 1.5, request["speed"], 0)
	assert.Equal(t, true, request["stream"])
	assert.Equal(t, true, request["normalize"])
}

func TestSpeak_ReportsDownloadStatusTrailer(t *testing.T) {
	t.Parallel()

	_, baseURL := startFakeService(t)
	output := filepath.Join(t.TempDir(), "out.wav")

	stdout, err := runClient(t, baseURL, "speak", "-t", "Keep a copy.", "--download-link", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Download copy unavailable: /download/tts_abc.wav")
}

func TestSpeak_ReadsTextFromFile(t *testing.T) {
	t.Parallel()

	service, baseURL := startFakeService(t)
	input := filepath.Join(t.TempDir(), "page.txt")
	require.NoError(t, os.WriteFile(input, []byte("From a file."), 0o600))

	_, err := runClient(t, baseURL, "speak", "--file", input, "--no-normalize", "-o",
		filepath.Join(t.TempDir(), "out.wav"))
	require.NoError(t, err)

	request := service.lastRequest()
	assert.Equal(t, "From a file.", request["input"])
	assert.Equal(t, false, request["normalize"])
	assert.Empty(t, request["voice"])
}

func TestSpeak_InputValidation(t *testing.T) {
	t.Parallel()

	service, baseURL := startFakeService(t)

	_, err := runClient(t, baseURL, "speak", "-o", filepath.Join(t.TempDir(), "a.wav"))
	require.ErrorIs(t, err, ErrNoInput)

	_, err = runClient(t, baseURL, "speak", "-t", "x", "-f", "y", "-o", filepath.Join(t.TempDir(), "b.wav"))
	require.ErrorIs(t, err, ErrBothInputs)

	assert.Nil(t, service.lastRequest())
}

func TestSpeak_SurfacesServiceError(t *testing.T) {
	t.Parallel()

	_, baseURL := startFakeService(t)

	_, err := runClient(t, baseURL, "speak", "-t", "reject me", "-o", filepath.Join(t.TempDir(), "c.wav"))
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "Voice 'nobody' not found")
	assert.Contains(t, err.Error(), "status 400")
}

func TestListingCommands(t *testing.T) {
	t.Parallel()

	_, baseURL := startFakeService(t)

	voices, err := runClient(t, baseURL, "voices")
	require.NoError(t, err)
	assert.Equal(t, []string{"af_bella", "af_heart"}, strings.Fields(voices))

	models, err := runClient(t, baseURL, "models")
	require.NoError(t, err)
	assert.Equal(t, "tts-1\tkokoro\n", models)

	health, err := runClient(t, baseURL, "health")
	require.NoError(t, err)
	assert.Equal(t, "status=healthy model_loaded=true device=cpu voices=2\n", health)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	_, baseURL := startFakeService(t)
	dir := t.TempDir()

	target := filepath.Join(dir, "copy.wav")
	_, err := runClient(t, baseURL, "download", "/download/tts_abc.wav", "-o", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, fakeAudio, data)

	missing := filepath.Join(dir, "missing.wav")
	_, err = runClient(t, baseURL, "download", "gone.wav", "-o", missing)
	require.ErrorIs(t, err, ErrAPI)
	assert.NoFileExists(t, missing)
}
