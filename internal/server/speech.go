package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/book-expert/tts-stream-service/internal/pipeline"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/gin-gonic/gin"
)

// Response headers.
const (
	headerContentDisposition = "Content-Disposition"
	headerCacheControl       = "Cache-Control"
	headerAccelBuffering     = "X-Accel-Buffering"
	headerDownloadPath       = "X-Download-Path"
	headerDownloadStatus     = "X-Download-Status"
	headerTrailer            = "Trailer"

	cacheNoCache      = "no-cache"
	downloadUnusable  = "unavailable"
	dispositionFormat = "attachment; filename=speech.%s"
)

const (
	defaultModel = "kokoro"

	logFmtStreamTruncated = "Audio stream truncated after %d bytes: %v"
	logFmtClientWrite     = "Failed to write audio to client: %v"
)

// SpeechRequest is the body of POST /v1/audio/speech.
type SpeechRequest struct {
	Model              string     `json:"model"`
	Input              string     `json:"input"`
	Voice              voice.Spec `json:"voice"`
	ResponseFormat     string     `json:"response_format"`
	DownloadFormat     string     `json:"download_format"`
	Speed              *float64   `json:"speed"`
	Stream             *bool      `json:"stream"`
	ReturnDownloadLink bool       `json:"return_download_link"`
	Normalize          *bool      `json:"normalize"`
}

func (r *SpeechRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

func (s *Server) toPipelineRequest(body *SpeechRequest) pipeline.Request {
	spec := body.Voice
	if spec.IsZero() {
		spec = voice.FromString(s.deps.DefaultVoice)
	}

	speed := pipeline.DefaultSpeed
	if body.Speed != nil {
		speed = *body.Speed
	}

	normalize := body.Normalize == nil || *body.Normalize

	return pipeline.Request{
		Text:           body.Input,
		Voice:          spec,
		Speed:          speed,
		Format:         body.ResponseFormat,
		DownloadFormat: body.DownloadFormat,
		WantsDownload:  body.ReturnDownloadLink,
		Normalize:      normalize,
	}
}

func (s *Server) handleSpeech(c *gin.Context) {
	var body SpeechRequest

	bindErr := c.ShouldBindJSON(&body)
	if bindErr != nil {
		s.abortWithError(c, http.StatusBadRequest, core.CodeValidation,
			fmt.Sprintf("Invalid request body: %v", bindErr), core.ErrorTypeInvalidRequest)

		return
	}

	if body.Model == "" {
		body.Model = defaultModel
	}

	if _, ok := s.deps.Aliases.Model(body.Model); !ok {
		s.deps.Metrics.ValidationFailed()
		s.abortWithError(c, http.StatusBadRequest, core.CodeInvalidModel,
			"Unsupported model: "+body.Model, core.ErrorTypeInvalidRequest)

		return
	}

	req := s.toPipelineRequest(&body)

	if body.streaming() {
		s.streamSpeech(c, req)

		return
	}

	s.collectSpeech(c, req)
}

func (s *Server) streamSpeech(c *gin.Context, req pipeline.Request) {
	ctx := c.Request.Context()

	stream, err := s.deps.Pipeline.Stream(ctx, req, func() bool { return ctx.Err() != nil })
	if err != nil {
		s.abortWithCause(c, err)

		return
	}

	defer stream.Close()

	written := 0
	trailerDeclared := false

	for {
		segment, nextErr := stream.Next(ctx)
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			if written == 0 {
				s.abortWithCause(c, nextErr)

				return
			}

			s.deps.Log.Error(logFmtStreamTruncated, written, nextErr)

			break
		}

		if written == 0 {
			trailerDeclared = writeStreamHeaders(c, stream, req.WantsDownload)
		}

		n, writeErr := c.Writer.Write(segment)
		written += n

		if writeErr != nil {
			s.deps.Log.Warn(logFmtClientWrite, writeErr)

			return
		}

		c.Writer.Flush()
	}

	if written == 0 {
		trailerDeclared = writeStreamHeaders(c, stream, req.WantsDownload)
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}

	// Finalize before reporting so a late write failure is reflected.
	_ = stream.Close()

	if trailerDeclared && stream.DownloadUnavailable() {
		c.Writer.Header().Set(headerDownloadStatus, downloadUnusable)
	}
}

// writeStreamHeaders sets the audio response headers. They are held back until
// the first segment so an early failure still gets a clean JSON error. It
// reports whether the download status was declared as a trailer.
func writeStreamHeaders(c *gin.Context, stream *pipeline.Stream, wantsDownload bool) bool {
	format := stream.Format()

	c.Header("Content-Type", format.ContentType())
	c.Header(headerContentDisposition, fmt.Sprintf(dispositionFormat, format))
	c.Header(headerCacheControl, cacheNoCache)
	c.Header(headerAccelBuffering, "no")

	if !wantsDownload {
		return false
	}

	c.Header(headerDownloadPath, stream.DownloadPath())

	if stream.DownloadUnavailable() {
		c.Header(headerDownloadStatus, downloadUnusable)

		return false
	}

	c.Header(headerTrailer, headerDownloadStatus)

	return true
}

func (s *Server) collectSpeech(c *gin.Context, req pipeline.Request) {
	result, err := s.deps.Pipeline.Collect(c.Request.Context(), req)
	if err != nil {
		s.abortWithCause(c, err)

		return
	}

	c.Header(headerContentDisposition, fmt.Sprintf(dispositionFormat, result.Format))
	c.Header(headerCacheControl, cacheNoCache)

	if req.WantsDownload {
		c.Header(headerDownloadPath, result.DownloadPath)

		if result.DownloadUnavailable {
			c.Header(headerDownloadStatus, downloadUnusable)
		}
	}

	c.Data(http.StatusOK, result.Format.ContentType(), result.Audio)
}
