package http

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/api"
	appconfig "github.com/parlo-ai/voice-gateway/internal/config"
	"github.com/parlo-ai/voice-gateway/internal/storage"
)

// apiHandlers serves the thin view-layer endpoints: catalog, block
// check, feedback, and pre-registration passthroughs.
type apiHandlers struct {
	logger        *zap.Logger
	api           *api.Client
	presets       map[string]appconfig.CharacterPreset
	transcriptDir string

	mu             sync.Mutex
	characterCache []api.Character
	cached         bool
	inflight       map[string]bool
}

func newAPIHandlers(cfg appconfig.Config, apiClient *api.Client, logger *zap.Logger) *apiHandlers {
	return &apiHandlers{
		logger:        logger,
		api:           apiClient,
		presets:       appconfig.ScanCharacterPresets(cfg.PresetsDir),
		transcriptDir: cfg.TranscriptDir,
		inflight:      make(map[string]bool),
	}
}

// characters serves the catalog, fetched once per process and cached.
// Local presets fill in when the backend catalog is unreachable.
func (h *apiHandlers) characters(c *gin.Context) {
	h.mu.Lock()
	if h.cached {
		cached := h.characterCache
		h.mu.Unlock()
		c.JSON(http.StatusOK, cached)
		return
	}
	h.mu.Unlock()

	characters, err := h.api.Characters(c.Request.Context())
	if err != nil {
		h.logger.Warn("character catalog fetch failed", zap.Error(err))
		fallback := h.presetCharacters()
		if len(fallback) == 0 {
			c.JSON(http.StatusBadGateway, gin.H{"error": "character catalog unavailable"})
			return
		}
		c.JSON(http.StatusOK, fallback)
		return
	}

	h.mu.Lock()
	h.characterCache = characters
	h.cached = true
	h.mu.Unlock()

	c.JSON(http.StatusOK, characters)
}

func (h *apiHandlers) presetCharacters() []api.Character {
	characters := make([]api.Character, 0, len(h.presets))
	for id, preset := range h.presets {
		characters = append(characters, api.Character{
			ID:          id,
			Name:        preset.Name,
			ImageURL:    preset.Avatar,
			InitMessage: preset.Greeting,
		})
	}
	return characters
}

type checkBlockRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

func (h *apiHandlers) checkBlock(c *gin.Context) {
	var req checkBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint is required"})
		return
	}

	result, err := h.api.CheckBlock(c.Request.Context(), req.Fingerprint, c.ClientIP())
	if err != nil {
		h.logger.Warn("block check failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "block check unavailable"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// feedback proxies the post-session report. An empty correction list is
// a valid "no issues found" report, not an error.
func (h *apiHandlers) feedback(c *gin.Context) {
	sessionID := c.Param("session_id")
	report, err := h.api.Feedback(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Warn("feedback fetch failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "feedback unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// transcripts lists archived session transcripts for one character,
// newest first.
func (h *apiHandlers) transcripts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"transcripts": storage.ListTranscripts(h.transcriptDir, c.Param("character_id")),
	})
}

// transcript serves one archived transcript for the feedback screen's
// raw-transcript rendering.
func (h *apiHandlers) transcript(c *gin.Context) {
	record, err := storage.GetTranscript(h.transcriptDir, c.Param("character_id"), c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *apiHandlers) deleteTranscript(c *gin.Context) {
	characterID, uid := c.Param("character_id"), c.Param("uid")
	if !storage.DeleteTranscript(h.transcriptDir, characterID, uid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	h.logger.Info("transcript deleted",
		zap.String("character_id", characterID),
		zap.String("transcript_uid", uid),
	)
	c.JSON(http.StatusOK, gin.H{"deleted": uid})
}

// preRegister forwards a lead registration. Concurrent duplicates for
// the same session are rejected while one submission is in flight.
func (h *apiHandlers) preRegister(c *gin.Context) {
	var reg api.PreRegistration
	if err := c.ShouldBindJSON(&reg); err != nil || reg.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	h.mu.Lock()
	if h.inflight[reg.SessionID] {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "submission already in flight"})
		return
	}
	h.inflight[reg.SessionID] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.inflight, reg.SessionID)
		h.mu.Unlock()
	}()

	result, err := h.api.PreRegister(c.Request.Context(), reg)
	if err != nil {
		h.logger.Warn("pre-registration failed",
			zap.String("session_id", reg.SessionID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "pre-registration unavailable"})
		return
	}
	c.JSON(http.StatusOK, result)
}
