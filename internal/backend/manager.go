package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/voice"
)

// DefaultWarmupText is generated once at startup so the first real request
// does not pay for lazy model initialization.
const DefaultWarmupText = "Warmup text for initialization."

const (
	logFmtLoadingModel = "Loading model %s"
	logFmtWarmupDone   = "Model warmed up on %s in %d ms, %d voice packs available"
	logFmtUnloadFailed = "Failed to unload model: %v"
)

// ErrNotInitialized is returned by Generate before Initialize has succeeded.
var ErrNotInitialized = errors.New("backend not initialized")

// WarmupSettings configures Initialize.
type WarmupSettings struct {
	ModelPath string
	Voice     string
	Text      string
}

// Status describes the backend after initialization.
type Status struct {
	Loaded     bool
	Device     string
	VoiceCount int
}

// Manager owns the model lifecycle. Initialize loads and warms the backend at
// most once even when called concurrently; Generate delegates afterwards.
type Manager struct {
	backend  core.Backend
	voices   voice.Lister
	settings WarmupSettings
	log      *logger.Logger

	mu          sync.Mutex
	initialized bool
}

// NewManager creates a Manager around backend.
func NewManager(backend core.Backend, voices voice.Lister, settings WarmupSettings, log *logger.Logger) *Manager {
	if settings.Text == "" {
		settings.Text = DefaultWarmupText
	}

	return &Manager{
		backend:     backend,
		voices:      voices,
		settings:    settings,
		log:         log,
		mu:          sync.Mutex{},
		initialized: false,
	}
}

// Initialize loads the model and runs one warmup generation with the default
// voice. Later calls return the current status without touching the backend.
func (m *Manager) Initialize(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return m.status(ctx), nil
	}

	start := time.Now()

	m.log.Info(logFmtLoadingModel, m.settings.ModelPath)

	loadErr := m.backend.Load(ctx, m.settings.ModelPath)
	if loadErr != nil {
		return Status{}, fmt.Errorf("failed to initialize backend: %w", loadErr)
	}

	warmupErr := m.warmup(ctx)
	if warmupErr != nil {
		return Status{}, fmt.Errorf("failed to warm up backend: %w", warmupErr)
	}

	m.initialized = true
	status := m.status(ctx)

	m.log.Info(logFmtWarmupDone, status.Device, time.Since(start).Milliseconds(), status.VoiceCount)

	return status, nil
}

func (m *Manager) warmup(ctx context.Context) error {
	iterator, err := m.backend.Generate(ctx, m.settings.Text, m.settings.Voice, 1.0)
	if err != nil {
		return err
	}

	defer func() {
		_ = iterator.Close()
	}()

	for {
		_, nextErr := iterator.Next(ctx)
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return nextErr
		}
	}
}

// Status reports the backend state without initializing it.
func (m *Manager) Status(ctx context.Context) Status {
	return m.status(ctx)
}

func (m *Manager) status(ctx context.Context) Status {
	count := 0

	if m.voices != nil {
		names, err := m.voices.ListVoices(ctx)
		if err == nil {
			count = len(names)
		}
	}

	return Status{
		Loaded:     m.backend.IsLoaded(),
		Device:     m.backend.Device(),
		VoiceCount: count,
	}
}

// Generate implements core.Generator.
func (m *Manager) Generate(ctx context.Context, text, voiceName string, speed float64) (core.ChunkIterator, error) {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}

	iterator, err := m.backend.Generate(ctx, text, voiceName, speed)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	return iterator, nil
}

// Shutdown unloads the model. Failures are logged; the process is exiting.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}

	m.initialized = false

	err := m.backend.Unload(ctx)
	if err != nil {
		m.log.Warn(logFmtUnloadFailed, err)
	}
}
