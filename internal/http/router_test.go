package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/api"
	appconfig "github.com/parlo-ai/voice-gateway/internal/config"
	"github.com/parlo-ai/voice-gateway/internal/session"
	"github.com/parlo-ai/voice-gateway/internal/storage"
	"github.com/parlo-ai/voice-gateway/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, cfg appconfig.Config, backend http.Handler) *gin.Engine {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	apiClient := api.NewClient(srv.URL, "", zap.NewNop())
	wsHandler := ws.NewHandler(zap.NewNop(), cfg, apiClient)
	return NewRouter(cfg, wsHandler, apiClient, zap.NewNop())
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, appconfig.Config{}, http.NotFoundHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCharactersCachedAfterFirstFetch(t *testing.T) {
	var hits int32
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"luna","name":"Luna"}]`))
	})
	router := newTestRouter(t, appconfig.Config{}, backend)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/characters", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var characters []api.Character
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &characters))
		require.Len(t, characters, 1)
		assert.Equal(t, "Luna", characters[0].Name)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "catalog should be fetched once and cached")
}

func TestCharactersFallBackToPresets(t *testing.T) {
	presetsDir := t.TempDir()
	preset := "id: luna\nname: Luna\navatar: /img/luna.png\ngreeting: hi\n"
	require.NoError(t, os.WriteFile(filepath.Join(presetsDir, "luna.yaml"), []byte(preset), 0o644))

	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	router := newTestRouter(t, appconfig.Config{PresetsDir: presetsDir}, backend)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/characters", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var characters []api.Character
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &characters))
	require.Len(t, characters, 1)
	assert.Equal(t, "luna", characters[0].ID)
	assert.Equal(t, "/img/luna.png", characters[0].ImageURL)
}

func TestCheckBlockRequiresFingerprint(t *testing.T) {
	router := newTestRouter(t, appconfig.Config{}, http.NotFoundHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/check-block", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckBlockForwardsFingerprint(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fp-1", body["fingerprint"])
		assert.NotEmpty(t, body["user_ip"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"is_blocked":true,"message":"nope"}`))
	})
	router := newTestRouter(t, appconfig.Config{}, backend)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/check-block", bytes.NewBufferString(`{"fingerprint":"fp-1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result api.BlockCheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.IsBlocked)
	assert.Equal(t, "nope", result.Message)
}

func TestFeedbackWithNoIssuesIsNotAnError(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_info":{"session_id":"s1"},"feedback":{"sentence_feedbacks":[],"scores":{"grammar":95,"fluency":90}}}`))
	})
	router := newTestRouter(t, appconfig.Config{}, backend)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/feedback/s1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var report api.FeedbackReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.False(t, report.HasIssues())
	assert.Equal(t, "s1", report.SessionInfo.SessionID)
}

func TestTranscriptArchiveServedAndDeleted(t *testing.T) {
	transcriptDir := t.TempDir()
	uid, err := storage.SaveTranscript(transcriptDir, storage.TranscriptRecord{
		SessionID:   "s1",
		CharacterID: "luna",
		TurnCount:   3,
		Messages: []session.Message{
			{Speaker: session.SpeakerAI, Text: "hello"},
			{Speaker: session.SpeakerUser, Text: "hi"},
		},
	})
	require.NoError(t, err)

	router := newTestRouter(t, appconfig.Config{TranscriptDir: transcriptDir}, http.NotFoundHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transcripts/luna", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Transcripts []storage.TranscriptInfo `json:"transcripts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Transcripts, 1)
	assert.Equal(t, uid, listing.Transcripts[0].UID)
	assert.Equal(t, "s1", listing.Transcripts[0].SessionID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transcripts/luna/"+uid, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var record storage.TranscriptRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, 3, record.TurnCount)
	require.Len(t, record.Messages, 2)
	assert.Equal(t, "hello", record.Messages[0].Text)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/transcripts/luna/"+uid, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transcripts/luna/"+uid, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscriptFetchUnknownUIDIsNotFound(t *testing.T) {
	router := newTestRouter(t, appconfig.Config{TranscriptDir: t.TempDir()}, http.NotFoundHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transcripts/luna/no-such-uid", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreRegistrationSingleFlightPerSession(t *testing.T) {
	release := make(chan struct{})
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	router := newTestRouter(t, appconfig.Config{}, backend)

	body := `{"session_id":"s1","name":"Kim","email":"kim@example.com"}`
	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/pre-registration", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}

	// Let the second request hit the in-flight guard, then release.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(codes)

	var got []int
	for code := range codes {
		got = append(got, code)
	}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, got)
}
