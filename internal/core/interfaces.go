// Package core defines the types and interfaces shared by the speech pipeline,
// its backends and its transports.
package core

import (
	"context"
	"io"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	UploadStream(ctx context.Context, key string, reader io.Reader) error
}

// ChunkIterator is a pull-based, non-restartable sequence of audio chunks.
// Next returns io.EOF once the sequence is exhausted.
type ChunkIterator interface {
	Next(ctx context.Context) (AudioChunk, error)
	Close() error
}

// Generator produces audio for a resolved voice expression.
type Generator interface {
	Generate(ctx context.Context, text, voice string, speed float64) (ChunkIterator, error)
}

// Backend is a loadable inference engine.
type Backend interface {
	Generator
	Load(ctx context.Context, path string) error
	Unload(ctx context.Context) error
	IsLoaded() bool
	Device() string
}

// Encoder turns audio chunks into bytes of a single output format. Encoders are
// stateful: the first call emits any container header and a call with isLast
// flushes trailing codec state.
type Encoder interface {
	Encode(chunk AudioChunk, isFirst, isLast bool) ([]byte, error)
	Close() error
}
