package tempfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/google/uuid"
)

// DownloadPrefix is the public route prefix of temp file downloads.
const DownloadPrefix = "/download/"

const unavailablePrefix = "unavailable_"

// Absorbed failure stages reported to metrics.
const (
	stageOpen     = "open"
	stageWrite    = "write"
	stageFinalize = "finalize"
)

const (
	logFmtCreateFailed   = "Failed to create temp file: %v"
	logFmtWriteFailed    = "Failed to write to temp file %s: %v"
	logFmtFinalizeFailed = "Failed to finalize temp file %s: %v"
	logFmtRemoveFailed   = "Failed to remove partial temp file %s: %v"
)

// Lifecycle misuse. These indicate a caller bug, not an I/O failure.
var (
	ErrWriteAfterFinalize = errors.New("cannot write to finalized temp file")
	ErrAlreadyFinalized   = errors.New("temp file already finalized")
)

// State is the lifecycle stage of a Handle.
type State int

// Handle states.
const (
	StateCreated State = iota
	StateWriting
	StateFinalized
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWriting:
		return "writing"
	case StateFinalized:
		return "finalized"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FileCreator opens a new file at name for writing. It must fail if name
// already exists.
type FileCreator func(name string) (io.WriteCloser, error)

// Option configures a Manager.
type Option func(*Manager)

// WithFileCreator replaces the function that opens new temp files.
func WithFileCreator(creator FileCreator) Option {
	return func(m *Manager) {
		m.creator = creator
	}
}

// Manager creates handles in the reaper's directory.
type Manager struct {
	reaper  *Reaper
	creator FileCreator
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewManager creates a Manager. Every Open runs a reaper pass first.
func NewManager(reaper *Reaper, log *logger.Logger, recorder *metrics.Metrics, opts ...Option) *Manager {
	manager := &Manager{reaper: reaper, creator: createExclusive, log: log, metrics: recorder}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

func createExclusive(name string) (io.WriteCloser, error) {
	file, err := os.OpenFile(filepath.Clean(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return nil, err
	}

	return file, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string {
	return m.reaper.Dir()
}

// Open reaps the directory and creates a uniquely named file with extension
// ext. It never fails: on error the returned handle is Errored and carries a
// non-functional download path, so callers must check Errored.
func (m *Manager) Open(ext string) *Handle {
	ext = strings.TrimPrefix(ext, ".")

	m.reaper.Reap()

	handle := &Handle{
		mu:        sync.Mutex{},
		file:      nil,
		path:      "",
		download:  "",
		errored:   false,
		finalized: false,
		written:   false,
		log:       m.log,
		metrics:   m.metrics,
	}

	file, name, err := m.create(ext)
	if err != nil {
		m.log.Error(logFmtCreateFailed, err)
		m.metrics.TempFileError(stageOpen)

		handle.errored = true
		handle.download = DownloadPrefix + unavailablePrefix + ext

		return handle
	}

	handle.file = file
	handle.path = name
	handle.download = DownloadPrefix + filepath.Base(name)

	return handle
}

func (m *Manager) create(ext string) (io.WriteCloser, string, error) {
	mkdirErr := os.MkdirAll(m.reaper.Dir(), dirPermissions)
	if mkdirErr != nil {
		return nil, "", fmt.Errorf("failed to create temp directory: %w", mkdirErr)
	}

	name := filepath.Join(m.reaper.Dir(), uuid.NewString()+"."+ext)

	file, err := m.creator(name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open temp file: %w", err)
	}

	return file, name, nil
}

// Handle is a request-scoped, fail-soft on-disk copy of generated audio. I/O
// failures flip the error flag instead of surfacing; only lifecycle misuse
// returns an error. The file descriptor is released exactly once.
type Handle struct {
	mu        sync.Mutex
	file      io.WriteCloser
	path      string
	download  string
	errored   bool
	finalized bool
	written   bool
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// Path returns the filesystem path, empty when the file was never created.
func (h *Handle) Path() string {
	return h.path
}

// DownloadPath returns the public download path, /download/<basename>.
func (h *Handle) DownloadPath() string {
	return h.download
}

// Errored reports whether the on-disk copy is unusable.
func (h *Handle) Errored() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.errored
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.errored:
		return StateErrored
	case h.finalized:
		return StateFinalized
	case h.written:
		return StateWriting
	default:
		return StateCreated
	}
}

// Write appends p to the file. Writing after Finalize returns
// ErrWriteAfterFinalize; on an Errored handle it does nothing. The default
// creator returns an unbuffered os.File, so each write reaches the OS before
// Write returns.
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finalized {
		return ErrWriteAfterFinalize
	}

	if h.errored || h.file == nil {
		return nil
	}

	h.written = true

	_, err := h.file.Write(p)
	if err != nil {
		h.log.Error(logFmtWriteFailed, h.path, err)
		h.metrics.TempFileError(stageWrite)
		h.fail()
	}

	return nil
}

// Finalize closes the file and returns the download path. A second call returns
// ErrAlreadyFinalized unless the handle is Errored, in which case Finalize
// always succeeds with the non-functional path.
func (h *Handle) Finalize() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.errored {
		h.finalized = true

		return h.download, nil
	}

	if h.finalized {
		return h.download, ErrAlreadyFinalized
	}

	h.finalized = true

	if h.file == nil {
		return h.download, nil
	}

	closeErr := h.file.Close()
	h.file = nil

	if closeErr != nil {
		h.log.Error(logFmtFinalizeFailed, h.path, closeErr)
		h.metrics.TempFileError(stageFinalize)
		h.errored = true
	}

	return h.download, nil
}

// Close releases the handle at the end of its scope. It finalizes silently if
// needed and is safe to call any number of times.
func (h *Handle) Close() error {
	h.mu.Lock()
	finalized := h.finalized
	h.mu.Unlock()

	if finalized {
		return nil
	}

	_, err := h.Finalize()
	if errors.Is(err, ErrAlreadyFinalized) {
		return nil
	}

	return err
}

// Discard abandons the copy: the handle becomes Errored and any file on disk
// is removed. It does nothing once the handle is Errored or finalized.
func (h *Handle) Discard() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.errored || h.finalized {
		return
	}

	h.fail()
}

// fail marks the handle Errored, releases the descriptor and removes the partial
// file so the download path never serves truncated audio. Callers hold mu.
func (h *Handle) fail() {
	h.errored = true

	if h.file == nil {
		return
	}

	closeErr := h.file.Close()
	if closeErr != nil {
		h.log.Error(logFmtFinalizeFailed, h.path, closeErr)
	}

	h.file = nil

	removeErr := os.Remove(h.path)
	if removeErr != nil {
		h.log.Warn(logFmtRemoveFailed, h.path, removeErr)
	}
}
