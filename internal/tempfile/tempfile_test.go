package tempfile_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/tempfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const generousLimit = 1 << 40

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// populate writes count files of size bytes each, spaced one minute apart with
// the oldest first, then pins the directory mtime to reference.
func populate(t *testing.T, dir string, count, size int, reference time.Time) []string {
	t.Helper()

	paths := make([]string, 0, count)

	for index := range count {
		path := filepath.Join(dir, fmt.Sprintf("file-%02d.wav", index))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))

		modTime := reference.Add(-time.Duration(count-index) * time.Minute)
		require.NoError(t, os.Chtimes(path, modTime, modTime))

		paths = append(paths, path)
	}

	require.NoError(t, os.Chtimes(dir, reference, reference))

	return paths
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func TestReaper_CountLimitDeletesOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	populate(t, dir, 5, 10, time.Now())

	policy := tempfile.Policy{MaxAge: time.Hour, MaxCount: 3, MaxSizeBytes: generousLimit}
	report := tempfile.NewReaper(dir, policy, newTestLogger(t), nil).Reap()

	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Deleted)
	assert.Equal(t, int64(30), report.RemainingBytes)
	assert.Equal(t, []string{"file-02.wav", "file-03.wav", "file-04.wav"}, remaining(t, dir))
}

func TestReaper_SizeLimitDeletesUntilWithinLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	populate(t, dir, 4, 100, time.Now())

	policy := tempfile.Policy{MaxAge: time.Hour, MaxCount: 100, MaxSizeBytes: 250}
	report := tempfile.NewReaper(dir, policy, newTestLogger(t), nil).Reap()

	assert.Equal(t, 2, report.Deleted)
	assert.LessOrEqual(t, report.RemainingBytes, int64(250))
	assert.Equal(t, []string{"file-02.wav", "file-03.wav"}, remaining(t, dir))
}

func TestReaper_SizeLimitCanEmptyDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	populate(t, dir, 3, 100, time.Now())

	policy := tempfile.Policy{MaxAge: time.Hour, MaxCount: 100, MaxSizeBytes: -1}
	report := tempfile.NewReaper(dir, policy, newTestLogger(t), nil).Reap()

	assert.Equal(t, 3, report.Deleted)
	assert.Empty(t, remaining(t, dir))
}

func TestReaper_AgeMeasuredAgainstDirectoryMtime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// A reference far in the past: against wall-clock time every file would be
	// ancient, against the directory mtime only the oldest exceeds the limit.
	reference := time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)
	populate(t, dir, 3, 10, reference)

	policy := tempfile.Policy{MaxAge: 150 * time.Second, MaxCount: 100, MaxSizeBytes: generousLimit}
	report := tempfile.NewReaper(dir, policy, newTestLogger(t), nil).Reap()

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"file-01.wav", "file-02.wav"}, remaining(t, dir))
}

func TestReaper_CreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "temp")

	report := tempfile.NewReaper(dir, tempfile.PolicyFromLimits(1, 3, 10), newTestLogger(t), nil).Reap()

	assert.Zero(t, report.Scanned)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestReaper_IgnoresSubdirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "keep"), 0o750))
	populate(t, dir, 2, 10, time.Now())

	policy := tempfile.Policy{MaxAge: time.Hour, MaxCount: 0, MaxSizeBytes: generousLimit}
	report := tempfile.NewReaper(dir, policy, newTestLogger(t), nil).Reap()

	assert.Equal(t, 2, report.Deleted)
	assert.Equal(t, []string{"keep"}, remaining(t, dir))
}

func TestPolicyFromLimits(t *testing.T) {
	t.Parallel()

	policy := tempfile.PolicyFromLimits(2, 3, 5)

	assert.Equal(t, 2*time.Hour, policy.MaxAge)
	assert.Equal(t, 3, policy.MaxCount)
	assert.Equal(t, int64(5*1024*1024), policy.MaxSizeBytes)
}

func newManager(t *testing.T, dir string) *tempfile.Manager {
	t.Helper()

	log := newTestLogger(t)
	reaper := tempfile.NewReaper(dir, tempfile.PolicyFromLimits(1, 100, 100), log, nil)

	return tempfile.NewManager(reaper, log, nil)
}

func TestHandle_Lifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	handle := newManager(t, dir).Open("wav")

	require.False(t, handle.Errored())
	assert.Equal(t, tempfile.StateCreated, handle.State())
	assert.Equal(t, dir, filepath.Dir(handle.Path()))
	assert.True(t, strings.HasSuffix(handle.Path(), ".wav"))
	assert.Equal(t, "/download/"+filepath.Base(handle.Path()), handle.DownloadPath())

	require.NoError(t, handle.Write([]byte("RIFF")))
	require.NoError(t, handle.Write([]byte("data")))
	assert.Equal(t, tempfile.StateWriting, handle.State())

	// Bytes are on disk before finalize.
	partial, err := os.ReadFile(handle.Path())
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(partial))

	path, err := handle.Finalize()
	require.NoError(t, err)
	assert.Equal(t, handle.DownloadPath(), path)
	assert.Equal(t, tempfile.StateFinalized, handle.State())

	require.ErrorIs(t, handle.Write([]byte("late")), tempfile.ErrWriteAfterFinalize)

	_, err = handle.Finalize()
	require.ErrorIs(t, err, tempfile.ErrAlreadyFinalized)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
}

func TestHandle_CloseFinalizesOnce(t *testing.T) {
	t.Parallel()

	handle := newManager(t, t.TempDir()).Open(".pcm")
	require.NoError(t, handle.Write([]byte{1, 2}))

	require.NoError(t, handle.Close())
	assert.Equal(t, tempfile.StateFinalized, handle.State())
	assert.True(t, strings.HasSuffix(handle.Path(), ".pcm"))

	_, err := handle.Finalize()
	require.ErrorIs(t, err, tempfile.ErrAlreadyFinalized)
}

func TestHandle_OpenFailureIsSoft(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	handle := newManager(t, blocker).Open("wav")

	require.True(t, handle.Errored())
	assert.Equal(t, tempfile.StateErrored, handle.State())
	assert.Equal(t, "/download/unavailable_wav", handle.DownloadPath())

	require.NoError(t, handle.Write([]byte("ignored")))

	for range 2 {
		path, err := handle.Finalize()
		require.NoError(t, err)
		assert.Equal(t, "/download/unavailable_wav", path)
	}

	require.NoError(t, handle.Close())
}

func TestManager_OpenReapsFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	populate(t, dir, 4, 10, time.Now())

	log := newTestLogger(t)
	reaper := tempfile.NewReaper(dir, tempfile.Policy{MaxAge: time.Hour, MaxCount: 2, MaxSizeBytes: generousLimit}, log, nil)
	handle := tempfile.NewManager(reaper, log, nil).Open("wav")

	defer handle.Close()

	names := remaining(t, dir)
	assert.Len(t, names, 3)
	assert.Contains(t, names, filepath.Base(handle.Path()))
}

func TestHandle_DiscardRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	handle := newManager(t, dir).Open("wav")
	require.NoError(t, handle.Write([]byte("RIFF")))

	handle.Discard()

	assert.Equal(t, tempfile.StateErrored, handle.State())
	assert.NoFileExists(t, handle.Path())
	assert.Empty(t, remaining(t, dir))

	path, err := handle.Finalize()
	require.NoError(t, err)
	assert.Equal(t, handle.DownloadPath(), path)

	handle.Discard()
	require.NoError(t, handle.Close())
}

func TestHandle_DiscardKeepsFinalizedFile(t *testing.T) {
	t.Parallel()

	handle := newManager(t, t.TempDir()).Open("pcm")
	require.NoError(t, handle.Write([]byte{1, 2}))
	require.NoError(t, handle.Close())

	handle.Discard()

	assert.Equal(t, tempfile.StateFinalized, handle.State())
	assert.FileExists(t, handle.Path())
}

// shortWriter accepts limit writes and then fails like a full disk.
type shortWriter struct {
	io.WriteCloser
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.limit == 0 {
		return 0, syscall.ENOSPC
	}

	w.limit--

	return w.WriteCloser.Write(p)
}

func TestManager_WithFileCreator(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log := newTestLogger(t)
	reaper := tempfile.NewReaper(dir, tempfile.PolicyFromLimits(1, 100, 100), log, nil)
	manager := tempfile.NewManager(reaper, log, nil, tempfile.WithFileCreator(func(name string) (io.WriteCloser, error) {
		file, err := os.Create(name)
		if err != nil {
			return nil, err
		}

		return &shortWriter{WriteCloser: file, limit: 1}, nil
	}))

	handle := manager.Open("wav")
	require.NoError(t, handle.Write([]byte("RIFF")))
	require.False(t, handle.Errored())
	assert.FileExists(t, handle.Path())

	require.NoError(t, handle.Write([]byte("data")))
	assert.True(t, handle.Errored())
	assert.NoFileExists(t, handle.Path())
}
