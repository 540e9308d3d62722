package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/tts-stream-service/internal/audio"
	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/book-expert/tts-stream-service/internal/tempfile"
)

const (
	logFmtClientDisconnected = "Client disconnected, stopping audio generation after %d chunks"
	logFmtStreamFailed       = "Error in audio streaming after %d chunks: %v"
	logFmtCloseFailed        = "Failed to release %s: %v"
)

// Stream is a lazy, finite, non-restartable sequence of encoded audio. It is
// driven by a single goroutine.
type Stream struct {
	pipeline        *Pipeline
	iterator        core.ChunkIterator
	encoder         core.Encoder
	downloadEncoder core.Encoder
	handle          *tempfile.Handle
	format          audio.Format
	disconnected    func() bool
	first           bool
	chunks          int
	downloadBytes   int
	done            bool
	closed          bool
}

// Format returns the format of the bytes Next yields.
func (s *Stream) Format() audio.Format {
	return s.format
}

// DownloadPath returns the public path of the temp copy, or "" when no copy
// was requested.
func (s *Stream) DownloadPath() string {
	if s.handle == nil {
		return ""
	}

	return s.handle.DownloadPath()
}

// DownloadUnavailable reports whether the requested temp copy is unusable.
func (s *Stream) DownloadUnavailable() bool {
	return s.handle != nil && s.handle.Errored()
}

// Next returns the next encoded segment, or io.EOF once generation has ended
// or the client went away. A backend or encoder failure is returned as a
// *core.GenerationError and ends the stream.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		if s.clientGone(ctx) {
			s.pipeline.log.Info(logFmtClientDisconnected, s.chunks)
			s.finish(metrics.OutcomeDisconnected)

			return nil, io.EOF
		}

		chunk, err := s.iterator.Next(ctx)
		if errors.Is(err, io.EOF) {
			return s.flush()
		}

		if err != nil {
			return nil, s.fail(err)
		}

		s.chunks++

		segment, err := s.emit(chunk, false)
		if err != nil {
			return nil, err
		}

		if len(segment) > 0 {
			return segment, nil
		}
	}
}

// Close releases the backend iterator, the encoders and the temp file. It is
// safe to call any number of times.
func (s *Stream) Close() error {
	if !s.done {
		s.finish(metrics.OutcomeDisconnected)
	}

	return nil
}

func (s *Stream) clientGone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	return s.disconnected != nil && s.disconnected()
}

// flush emits the encoders' terminal output and ends the stream.
func (s *Stream) flush() ([]byte, error) {
	segment, err := s.emit(core.AudioChunk{}, true)
	if err != nil {
		return nil, err
	}

	s.finish(metrics.OutcomeCompleted)

	if len(segment) == 0 {
		return nil, io.EOF
	}

	return segment, nil
}

// emit encodes chunk and writes the download copy before handing the bytes
// back, so the temp file never lags the client.
func (s *Stream) emit(chunk core.AudioChunk, isLast bool) ([]byte, error) {
	segment, err := s.encoder.Encode(chunk, s.first, isLast)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to encode %s chunk: %w", s.format, err))
	}

	download := segment

	if s.downloadEncoder != nil {
		download, err = s.downloadEncoder.Encode(chunk, s.first, isLast)
		if err != nil {
			return nil, s.fail(fmt.Errorf("failed to encode download chunk: %w", err))
		}
	}

	s.first = false

	if s.handle != nil && len(download) > 0 {
		writeErr := s.handle.Write(download)
		if writeErr != nil {
			s.finish(metrics.OutcomeFailed)

			return nil, fmt.Errorf("failed to write download copy: %w", writeErr)
		}

		s.downloadBytes += len(download)
	}

	if len(segment) > 0 {
		s.pipeline.metrics.ChunkEmitted(len(segment))
	}

	return segment, nil
}

func (s *Stream) fail(err error) error {
	s.pipeline.log.Error(logFmtStreamFailed, s.chunks, err)
	s.finish(metrics.OutcomeFailed)

	return &core.GenerationError{Err: err}
}

// finish releases every resource exactly once.
func (s *Stream) finish(outcome string) {
	if s.closed {
		return
	}

	s.closed = true
	s.done = true

	if s.iterator != nil {
		s.release("backend iterator", s.iterator.Close())
	}

	s.release("encoder", s.encoder.Close())

	if s.downloadEncoder != nil {
		s.release("download encoder", s.downloadEncoder.Close())
	}

	if s.handle != nil {
		// A stream that ends early before any audio leaves nothing to download.
		if outcome != metrics.OutcomeCompleted && s.downloadBytes == 0 {
			s.handle.Discard()
		}

		s.release("temp file", s.handle.Close())
	}

	s.pipeline.metrics.StreamFinished(outcome)
}

func (s *Stream) release(what string, err error) {
	if err != nil {
		s.pipeline.log.Warn(logFmtCloseFailed, what, err)
	}
}
