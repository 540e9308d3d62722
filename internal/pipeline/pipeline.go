// Package pipeline turns a speech request into encoded audio. It validates the
// request, drives the backend one chunk at a time and fans every encoded chunk
// out to the caller and to an optional downloadable temp file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/audio"
	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/book-expert/tts-stream-service/internal/tempfile"
	"github.com/book-expert/tts-stream-service/internal/voice"
)

// Speed limits accepted by the backend.
const (
	MinSpeed     = 0.25
	MaxSpeed     = 4.0
	DefaultSpeed = 1.0
)

const (
	logFmtGenerationStarted = "Generating audio: voice=%s format=%s speed=%.2f chars=%d"
	logFmtGenerateFailed    = "Failed to start audio generation: %v"
	logFmtCollectFailed     = "Audio generation failed after %d chunks: %v"
)

// Normalizer rewrites input text into a form the backend pronounces well.
type Normalizer interface {
	Normalize(text string) string
}

// Request describes one synthesis.
type Request struct {
	Text           string
	Voice          voice.Spec
	Speed          float64
	Format         string
	DownloadFormat string
	WantsDownload  bool
	Normalize      bool
}

// Result is the outcome of a non-streaming synthesis.
type Result struct {
	Audio               []byte
	Format              audio.Format
	DownloadPath        string
	DownloadUnavailable bool
}

// Pipeline is safe for concurrent use; each call builds its own encoders and
// temp file.
type Pipeline struct {
	generator  core.Generator
	resolver   *voice.Resolver
	temp       *tempfile.Manager
	normalizer Normalizer
	sampleRate int
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// New creates a Pipeline. normalizer may be nil, in which case the Normalize
// flag of a request is ignored.
func New(
	generator core.Generator,
	resolver *voice.Resolver,
	temp *tempfile.Manager,
	normalizer Normalizer,
	sampleRate int,
	log *logger.Logger,
	recorder *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		generator:  generator,
		resolver:   resolver,
		temp:       temp,
		normalizer: normalizer,
		sampleRate: sampleRate,
		log:        log,
		metrics:    recorder,
	}
}

// plan is a validated request.
type plan struct {
	text           string
	voice          voice.Expression
	speed          float64
	format         audio.Format
	downloadFormat audio.Format
	wantsDownload  bool
}

// Validate checks req without generating anything and returns the resolved
// voice expression.
func (p *Pipeline) Validate(ctx context.Context, req Request) (voice.Expression, error) {
	planned, err := p.validate(ctx, req)
	if err != nil {
		return voice.Expression{}, err
	}

	return planned.voice, nil
}

func (p *Pipeline) validate(ctx context.Context, req Request) (plan, error) {
	planned, err := p.buildPlan(ctx, req)
	if err != nil {
		var validationErr *core.ValidationError
		if errors.As(err, &validationErr) {
			p.metrics.ValidationFailed()
		}

		return plan{}, err
	}

	return planned, nil
}

func (p *Pipeline) buildPlan(ctx context.Context, req Request) (plan, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return plan{}, core.NewValidationError(core.CodeValidation, "Input text cannot be empty")
	}

	speed := req.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}

	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return plan{}, core.NewValidationError(
			core.CodeValidation, "Speed must be between %.2f and %.1f, got %v", MinSpeed, MaxSpeed, req.Speed)
	}

	format, err := parseFormat(req.Format, audio.FormatWAV)
	if err != nil {
		return plan{}, err
	}

	downloadFormat, err := parseFormat(req.DownloadFormat, format)
	if err != nil {
		return plan{}, err
	}

	expression, err := p.resolver.Resolve(ctx, req.Voice)
	if err != nil {
		return plan{}, fmt.Errorf("failed to resolve voice: %w", err)
	}

	if req.Normalize && p.normalizer != nil {
		text = p.normalizer.Normalize(text)
	}

	return plan{
		text:           text,
		voice:          expression,
		speed:          speed,
		format:         format,
		downloadFormat: downloadFormat,
		wantsDownload:  req.WantsDownload,
	}, nil
}

func parseFormat(name string, fallback audio.Format) (audio.Format, error) {
	if strings.TrimSpace(name) == "" {
		return fallback, nil
	}

	format, err := audio.ParseFormat(name)
	if err != nil {
		supported := make([]string, 0, len(audio.SupportedFormats()))
		for _, candidate := range audio.SupportedFormats() {
			supported = append(supported, string(candidate))
		}

		return "", core.NewValidationError(core.CodeUnsupportedFormat,
			"Unsupported audio format: %s. Supported formats: %s", name, strings.Join(supported, ", "))
	}

	return format, nil
}

// Stream validates req and starts generation. No backend work happens when
// validation fails. disconnected is polled before each chunk is pulled; it may
// be nil. The caller must Close the returned stream.
func (p *Pipeline) Stream(ctx context.Context, req Request, disconnected func() bool) (*Stream, error) {
	planned, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	encoder, err := audio.NewEncoder(planned.format, p.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", planned.format, err)
	}

	stream := &Stream{
		pipeline:        p,
		iterator:        nil,
		encoder:         encoder,
		downloadEncoder: nil,
		handle:          nil,
		format:          planned.format,
		disconnected:    disconnected,
		first:           true,
		chunks:          0,
		downloadBytes:   0,
		done:            false,
		closed:          false,
	}

	if planned.wantsDownload {
		stream.handle = p.temp.Open(string(planned.downloadFormat))

		if planned.downloadFormat != planned.format {
			stream.downloadEncoder, err = audio.NewEncoder(planned.downloadFormat, p.sampleRate)
			if err != nil {
				_ = stream.Close()

				return nil, fmt.Errorf("failed to create %s encoder: %w", planned.downloadFormat, err)
			}
		}
	}

	p.log.Info(logFmtGenerationStarted, planned.voice, planned.format, planned.speed, len(planned.text))

	iterator, err := p.generator.Generate(ctx, planned.text, planned.voice.String(), planned.speed)
	if err != nil {
		p.log.Error(logFmtGenerateFailed, err)
		stream.finish(metrics.OutcomeFailed)

		return nil, &core.GenerationError{Err: err}
	}

	stream.iterator = iterator

	return stream, nil
}

// Collect validates req, generates all audio, and returns it as a single
// complete file. WAV output carries its real lengths.
func (p *Pipeline) Collect(ctx context.Context, req Request) (*Result, error) {
	planned, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	p.log.Info(logFmtGenerationStarted, planned.voice, planned.format, planned.speed, len(planned.text))

	combined, err := p.generateAll(ctx, planned)
	if err != nil {
		p.metrics.StreamFinished(metrics.OutcomeFailed)

		return nil, err
	}

	output, err := p.encodeWhole(planned.format, combined)
	if err != nil {
		p.metrics.StreamFinished(metrics.OutcomeFailed)

		return nil, &core.GenerationError{Err: err}
	}

	result := &Result{
		Audio:               output,
		Format:              planned.format,
		DownloadPath:        "",
		DownloadUnavailable: false,
	}

	if planned.wantsDownload {
		downloadErr := p.writeDownload(planned, combined, output, result)
		if downloadErr != nil {
			return nil, downloadErr
		}
	}

	p.metrics.ChunkEmitted(len(output))
	p.metrics.StreamFinished(metrics.OutcomeCompleted)

	return result, nil
}

func (p *Pipeline) generateAll(ctx context.Context, planned plan) (core.AudioChunk, error) {
	iterator, err := p.generator.Generate(ctx, planned.text, planned.voice.String(), planned.speed)
	if err != nil {
		p.log.Error(logFmtGenerateFailed, err)

		return core.AudioChunk{}, &core.GenerationError{Err: err}
	}

	defer func() {
		_ = iterator.Close()
	}()

	var chunks []core.AudioChunk

	for {
		chunk, nextErr := iterator.Next(ctx)
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			p.log.Error(logFmtCollectFailed, len(chunks), nextErr)

			return core.AudioChunk{}, &core.GenerationError{Err: nextErr}
		}

		chunks = append(chunks, chunk)
	}

	return core.Combine(chunks...), nil
}

// encodeWhole runs a fresh encoder over audio as one chunk followed by the
// terminal flush.
func (p *Pipeline) encodeWhole(format audio.Format, combined core.AudioChunk) ([]byte, error) {
	encoder, err := audio.NewEncoder(format, p.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", format, err)
	}

	defer func() {
		_ = encoder.Close()
	}()

	body, err := encoder.Encode(combined, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	tail, err := encoder.Encode(core.AudioChunk{}, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to flush encoder: %w", err)
	}

	output := append(body, tail...)
	if format == audio.FormatWAV {
		audio.PatchWAVSizes(output)
	}

	return output, nil
}

func (p *Pipeline) writeDownload(planned plan, combined core.AudioChunk, output []byte, result *Result) error {
	handle := p.temp.Open(string(planned.downloadFormat))
	defer handle.Close()

	contents := output

	if planned.downloadFormat != planned.format {
		encoded, err := p.encodeWhole(planned.downloadFormat, combined)
		if err != nil {
			return &core.GenerationError{Err: err}
		}

		contents = encoded
	}

	writeErr := handle.Write(contents)
	if writeErr != nil {
		return fmt.Errorf("failed to write download copy: %w", writeErr)
	}

	downloadPath, finalizeErr := handle.Finalize()
	if finalizeErr != nil {
		return fmt.Errorf("failed to finalize download copy: %w", finalizeErr)
	}

	result.DownloadPath = downloadPath
	result.DownloadUnavailable = handle.Errored()

	return nil
}
