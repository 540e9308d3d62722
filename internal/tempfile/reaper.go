// Package tempfile manages the bounded directory of downloadable copies of
// generated audio: scoped file handles and the eviction pass that keeps the
// directory within its age, count and size limits.
package tempfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/metrics"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
	bytesPerMB      = 1024 * 1024
)

const (
	logFmtDeleteOld      = "Deleting old temp file: %s"
	logFmtDeleteExcess   = "Deleting excess temp file: %s"
	logFmtDeleteSize     = "Deleting to reduce directory size: %s"
	logFmtDeleted        = "Deleted temp file: %s"
	logFmtDeleteFailed   = "Failed to delete temp file %s: %v"
	logFmtCleanupFailed  = "Error during temp file cleanup in %s: %v"
	logFmtDirCreated     = "Created temp file directory %s"
	logFmtStatFailed     = "Failed to stat temp file %s: %v"
	logFmtReapSummary    = "Temp file cleanup: scanned %d, deleted %d, failed %d, %d bytes remain"
	logFmtDirCreateError = "Failed to create temp file directory %s: %v"
)

// Policy bounds the temp directory. All three limits apply on every pass; a
// zero MaxCount empties the directory.
type Policy struct {
	MaxAge       time.Duration
	MaxCount     int
	MaxSizeBytes int64
}

// PolicyFromLimits converts the configured hour and megabyte limits.
func PolicyFromLimits(maxAgeHours, maxCount, maxSizeMB int) Policy {
	return Policy{
		MaxAge:       time.Duration(maxAgeHours) * time.Hour,
		MaxCount:     maxCount,
		MaxSizeBytes: int64(maxSizeMB) * bytesPerMB,
	}
}

// Report summarizes one reaper pass.
type Report struct {
	Scanned        int
	Deleted        int
	Failed         int
	RemainingBytes int64
}

// Reaper enforces Policy over a single directory. It holds no state between
// passes and takes no lock: concurrent passes and concurrent removals are
// tolerated.
type Reaper struct {
	dir     string
	policy  Policy
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewReaper creates a Reaper for dir.
func NewReaper(dir string, policy Policy, log *logger.Logger, recorder *metrics.Metrics) *Reaper {
	return &Reaper{
		dir:     dir,
		policy:  policy,
		log:     log,
		metrics: recorder,
	}
}

// Dir returns the directory the reaper manages.
func (r *Reaper) Dir() string {
	return r.dir
}

type entry struct {
	path    string
	modTime time.Time
	size    int64
}

// Reap runs one eviction pass. A missing directory is created and the pass ends.
// Failures are logged and never returned.
func (r *Reaper) Reap() Report {
	var report Report

	dirInfo, statErr := os.Stat(r.dir)
	if errors.Is(statErr, fs.ErrNotExist) {
		mkdirErr := os.MkdirAll(r.dir, dirPermissions)
		if mkdirErr != nil {
			r.log.Warn(logFmtDirCreateError, r.dir, mkdirErr)
		} else {
			r.log.Info(logFmtDirCreated, r.dir)
		}

		return report
	}

	if statErr != nil {
		r.log.Warn(logFmtCleanupFailed, r.dir, statErr)

		return report
	}

	// Ages are measured against the directory's own mtime, snapshotted here.
	reference := dirInfo.ModTime()

	entries, total, listErr := r.list()
	if listErr != nil {
		r.log.Warn(logFmtCleanupFailed, r.dir, listErr)

		return report
	}

	report.Scanned = len(entries)
	remaining := len(entries)

	for _, file := range entries {
		reason := r.evictionReason(reference.Sub(file.modTime), remaining, total)
		if reason == "" {
			continue
		}

		r.logReason(reason, file.path)

		removeErr := os.Remove(file.path)
		if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			r.log.Warn(logFmtDeleteFailed, file.path, removeErr)

			report.Failed++

			continue
		}

		total -= file.size
		remaining--
		report.Deleted++

		r.metrics.FileReaped(reason)
		r.log.Info(logFmtDeleted, file.path)
	}

	report.RemainingBytes = total
	r.metrics.TempDirSize(total)

	if report.Deleted > 0 || report.Failed > 0 {
		r.log.Info(logFmtReapSummary, report.Scanned, report.Deleted, report.Failed, report.RemainingBytes)
	}

	return report
}

func (r *Reaper) evictionReason(age time.Duration, remaining int, total int64) string {
	switch {
	case age > r.policy.MaxAge:
		return metrics.ReasonAge
	case remaining > r.policy.MaxCount:
		return metrics.ReasonCount
	case total > r.policy.MaxSizeBytes:
		return metrics.ReasonSize
	default:
		return ""
	}
}

func (r *Reaper) logReason(reason, path string) {
	switch reason {
	case metrics.ReasonAge:
		r.log.Info(logFmtDeleteOld, path)
	case metrics.ReasonCount:
		r.log.Info(logFmtDeleteExcess, path)
	default:
		r.log.Info(logFmtDeleteSize, path)
	}
}

// list returns the regular files of the directory sorted oldest first, and
// their total size.
func (r *Reaper) list() ([]entry, int64, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, 0, err
	}

	var total int64

	entries := make([]entry, 0, len(dirEntries))

	for _, dirEntry := range dirEntries {
		if !dirEntry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(r.dir, dirEntry.Name())

		info, infoErr := dirEntry.Info()
		if infoErr != nil {
			// Removed by a concurrent pass between ReadDir and Info.
			if !errors.Is(infoErr, fs.ErrNotExist) {
				r.log.Warn(logFmtStatFailed, path, infoErr)
			}

			continue
		}

		entries = append(entries, entry{path: path, modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	return entries, total, nil
}
