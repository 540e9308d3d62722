package server

import (
	"fmt"
	"net/http"

	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/gin-gonic/gin"
)

const (
	modelObject   = "model"
	listObject    = "list"
	modelCreated  = 1686935002
	modelOwnedBy  = "kokoro"
	healthHealthy = "healthy"
	healthLoading = "unavailable"
)

// Model is one entry of the model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// VoiceList is the body of GET /v1/audio/voices.
type VoiceList struct {
	Voices []string `json:"voices"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	VoiceCount  int    `json:"voice_count"`
}

func newModel(id string) Model {
	return Model{ID: id, Object: modelObject, Created: modelCreated, OwnedBy: modelOwnedBy}
}

func (s *Server) handleModels(c *gin.Context) {
	ids := s.deps.Aliases.Models()

	models := make([]Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, newModel(id))
	}

	c.JSON(http.StatusOK, ModelList{Object: listObject, Data: models})
}

func (s *Server) handleModel(c *gin.Context) {
	id := c.Param("model")

	if _, ok := s.deps.Aliases.Model(id); !ok {
		s.abortWithError(c, http.StatusNotFound, core.CodeModelNotFound,
			fmt.Sprintf("Model '%s' not found", id), core.ErrorTypeInvalidRequest)

		return
	}

	c.JSON(http.StatusOK, newModel(id))
}

func (s *Server) handleVoices(c *gin.Context) {
	voices, err := s.deps.Voices.ListVoices(c.Request.Context())
	if err != nil {
		s.abortWithCause(c, fmt.Errorf("failed to list voices: %w", err))

		return
	}

	c.JSON(http.StatusOK, VoiceList{Voices: voices})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Status(c.Request.Context())

	response := HealthResponse{
		Status:      healthHealthy,
		ModelLoaded: status.Loaded,
		Device:      status.Device,
		VoiceCount:  status.VoiceCount,
	}

	if !status.Loaded {
		response.Status = healthLoading
		c.JSON(http.StatusServiceUnavailable, response)

		return
	}

	c.JSON(http.StatusOK, response)
}
