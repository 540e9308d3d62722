// Package worker synthesizes speech for jobs published on a NATS subject and
// stores the audio in a JetStream object bucket.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/audio"
	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/book-expert/tts-stream-service/internal/pipeline"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

const (
	handleMessageTimeout = 10 * time.Minute
	releaseTimeout       = 30 * time.Second
	queueGroup           = "tts-stream-service"
)

// Job outcomes reported to metrics.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobRejected  = "rejected"
	JobInvalid   = "invalid"
)

var (
	// ErrTextKeyEmpty indicates an event without a text object to read.
	ErrTextKeyEmpty = errors.New("event text key cannot be empty")
	// ErrPoolSize indicates a non-positive worker count.
	ErrPoolSize = errors.New("worker pool size must be positive")
)

// Synthesizer starts a streaming synthesis. *pipeline.Pipeline satisfies it.
type Synthesizer interface {
	Stream(ctx context.Context, req pipeline.Request, disconnected func() bool) (*pipeline.Stream, error)
}

// NatsWorker listens for TextProcessedEvents and answers each with an
// AudioChunkCreatedEvent once the audio is stored.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    Synthesizer
	defaultVoice   string
	pool           *ants.Pool
	log            *logger.Logger
	metrics        *metrics.Metrics
}

// NewNatsWorker creates a worker that runs at most workers jobs at once.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer Synthesizer,
	defaultVoice string,
	workers int,
	log *logger.Logger,
	recorder *metrics.Metrics,
) (*NatsWorker, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrPoolSize, workers)
	}

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(recovered any) {
		log.Error("Panic while processing TTS job: %v", recovered)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		defaultVoice:   defaultVoice,
		pool:           pool,
		log:            log,
		metrics:        recorder,
	}, nil
}

// Run subscribes and processes jobs until ctx is done. Pending messages are
// drained and running jobs are given releaseTimeout to finish.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, queueGroup, func(msg *nats.Msg) {
		submitErr := w.pool.Submit(func() {
			w.handleMessage(ctx, msg)
		})
		if submitErr != nil {
			w.log.Error("Failed to schedule TTS job: %v", submitErr)
			w.metrics.JobFinished(JobRejected)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for TTS jobs on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()

	releaseErr := w.pool.ReleaseTimeout(releaseTimeout)
	if releaseErr != nil {
		w.log.Warn("Worker pool did not stop in time: %v", releaseErr)
	}

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	// Jobs already accepted finish even while the service shuts down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)
		w.metrics.JobFinished(JobInvalid)

		return
	}

	audioKey, processErr := w.processTTSJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, processErr)
		w.metrics.JobFinished(jobStatus(processErr))

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}

	w.log.Info("Stored audio %s for workflow %s page %d/%d",
		audioKey, event.Header.WorkflowID, event.PageNumber, event.TotalPages)
	w.metrics.JobFinished(JobCompleted)
}

// processTTSJob downloads the page text, synthesizes it, and streams the
// encoded audio straight into the object store.
func (w *NatsWorker) processTTSJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	voiceName := event.Voice
	if voiceName == "" {
		voiceName = w.defaultVoice
	}

	stream, err := w.synthesizer.Stream(ctx, pipeline.Request{
		Text:           string(textData),
		Voice:          voice.FromString(voiceName),
		Speed:          pipeline.DefaultSpeed,
		Format:         string(audio.FormatWAV),
		DownloadFormat: "",
		WantsDownload:  false,
		Normalize:      true,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start synthesis: %w", err)
	}

	defer func() { _ = stream.Close() }()

	audioKey := uuid.NewString() + "." + string(stream.Format())

	reader, writer := io.Pipe()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		copyErr := copyStream(groupCtx, stream, writer)
		_ = writer.CloseWithError(copyErr)

		return copyErr
	})

	group.Go(func() error {
		uploadErr := w.store.UploadStream(groupCtx, audioKey, reader)
		_ = reader.CloseWithError(uploadErr)

		return uploadErr
	})

	err = group.Wait()
	if err != nil {
		return "", fmt.Errorf("failed to store audio for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func copyStream(ctx context.Context, stream *pipeline.Stream, writer io.Writer) error {
	for {
		segment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			// A canceled context also ends the stream early; that audio is truncated.
			return ctx.Err()
		}

		if err != nil {
			return err
		}

		_, err = writer.Write(segment)
		if err != nil {
			return fmt.Errorf("failed to write audio segment: %w", err)
		}
	}
}

func jobStatus(err error) string {
	var validationErr *core.ValidationError
	if errors.As(err, &validationErr) || errors.Is(err, ErrTextKeyEmpty) {
		return JobInvalid
	}

	return JobFailed
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
