package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/api"
	"github.com/parlo-ai/voice-gateway/internal/audio"
	appconfig "github.com/parlo-ai/voice-gateway/internal/config"
	"github.com/parlo-ai/voice-gateway/internal/fingerprint"
	"github.com/parlo-ai/voice-gateway/internal/protocol"
	appsession "github.com/parlo-ai/voice-gateway/internal/session"
	"github.com/parlo-ai/voice-gateway/internal/storage"
	"github.com/parlo-ai/voice-gateway/pkg/chat"
)

// Handler represents a handler.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	api      *api.Client
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	logger    *zap.Logger
	handler   *Handler
	clientUID string
	userAgent string
	clientIP  string

	mu          sync.Mutex
	started     bool
	characterID string
	chat        *chat.Client
	engine      *appsession.Engine
	player      *audio.Player
	recorder    *audio.Recorder
	sink        *browserSink
}

// NewHandler executes the newHandler function.
func NewHandler(logger *zap.Logger, cfg appconfig.Config, apiClient *api.Client) *Handler {
	return &Handler{
		logger:   logger,
		config:   cfg,
		api:      apiClient,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle executes the handle method.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		conn:      conn,
		logger:    h.logger,
		handler:   h,
		clientUID: fmt.Sprintf("%d", time.Now().UnixNano()),
		userAgent: r.UserAgent(),
		clientIP:  clientIP(r),
	}

	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.clientUID),
		zap.String("client_ip", sess.clientIP),
	)

	h.registerSession(sess)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		var msg protocol.ClientIntent
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendError("invalid json")
			continue
		}
		if msg.Type != protocol.IntentHeartbeat {
			sess.logger.Debug("ws incoming message",
				zap.String("session_id", sess.clientUID),
				zap.String("type", msg.Type),
			)
		}
		sess.handleIncoming(ctx, msg)
	}

	sess.cleanup()
	sess.logger.Info("ws session closed", zap.String("session_id", sess.clientUID))
	h.unregisterSession(sess.clientUID)
}

func (s *session) handleIncoming(ctx context.Context, msg protocol.ClientIntent) {
	switch msg.Type {
	case protocol.IntentStartSession:
		s.startSession(ctx, msg)
	case protocol.IntentSelectDifficulty:
		engine := s.currentEngine()
		if engine == nil {
			s.sendError("session not started")
			return
		}
		if err := engine.SelectDifficulty(ctx, msg.Difficulty); err != nil {
			s.sendError(err.Error())
		}
	case protocol.IntentRecordStart:
		engine, recorder := s.currentEngine(), s.currentRecorder()
		if engine == nil || recorder == nil {
			s.sendError("session not started")
			return
		}
		if !engine.CanRecord() {
			s.sendError("recording unavailable")
			return
		}
		if err := recorder.Start(); err != nil {
			s.sendError(err.Error())
			return
		}
		engine.RecordStarted()
	case protocol.IntentRecordChunk:
		recorder := s.currentRecorder()
		if recorder == nil {
			s.sendError("session not started")
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			s.sendError("invalid audio chunk")
			return
		}
		if err := recorder.Append(chunk); err != nil {
			s.logger.Debug("ws record chunk dropped", zap.Error(err))
		}
	case protocol.IntentRecordStop:
		recorder := s.currentRecorder()
		if recorder == nil {
			s.sendError("session not started")
			return
		}
		if err := recorder.Stop(); err != nil {
			s.logger.Debug("ws record stop ignored", zap.Error(err))
		}
	case protocol.IntentPlaybackComplete:
		if player := s.currentPlayer(); player != nil {
			player.Finish()
		}
	case protocol.IntentVisibilityChange:
		visible := msg.Visible != nil && *msg.Visible
		s.mu.Lock()
		sink, player := s.sink, s.player
		s.mu.Unlock()
		if sink != nil {
			sink.setHidden(!visible)
		}
		if visible && player != nil {
			player.OnVisible()
		}
	case protocol.IntentHeartbeat:
		s.sendJSON(map[string]any{"type": protocol.FramePong})
	default:
		s.sendError("unknown message type: " + msg.Type)
	}
}

func (s *session) startSession(ctx context.Context, msg protocol.ClientIntent) {
	if msg.CharacterID == "" {
		s.sendError("character_id is required")
		return
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.sendError("session already started")
		return
	}
	s.started = true
	s.mu.Unlock()

	cfg := s.handler.config
	fp := fingerprint.Generate(attrSource{userAgent: s.userAgent, attrs: msg.Device})

	if s.handler.api != nil {
		result, err := s.handler.api.CheckBlock(ctx, fp, s.clientIP)
		if err != nil {
			s.logger.Warn("block check failed", zap.Error(err))
		} else if result.IsBlocked {
			s.sendJSON(map[string]any{"type": protocol.FrameBlocked, "message": result.Message})
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return
		}
	}

	avatar, greeting := s.handler.characterDefaults(ctx, msg.CharacterID)

	engine := appsession.NewEngine(appsession.Options{
		DifficultyGate: cfg.Session.DifficultyGate,
		Suggestions:    cfg.Session.Suggestions,
		MaxTurns:       cfg.Backend.MaxTurns,
		Fingerprint:    fp,
		AvatarURL:      avatar,
		Greeting:       greeting,
	}, nil, s.engineCallbacks(msg.CharacterID), s.logger)

	sink := &browserSink{sess: s}
	player := audio.NewPlayer(sink, cfg.PlaybackWatchdog(), audio.PlayerCallbacks{
		OnDone: func() { engine.PlaybackFinished() },
		OnNotice: func(message string) {
			s.sendError(message)
		},
	}, s.logger)

	recorder := audio.NewRecorder(&browserDevice{sess: s}, func(clip []byte) {
		if err := engine.SubmitAudio(context.Background(), clip); err != nil {
			s.sendError(err.Error())
		}
	}, s.logger)

	chatClient := chat.NewClient(chat.Config{
		ChatWSURL:      cfg.Backend.ChatWSURL,
		CharacterID:    msg.CharacterID,
		AccessToken:    cfg.Backend.AccessToken,
		ReconnectDelay: cfg.ReconnectDelay(),
	}, chat.Callbacks{
		OnEvent: engine.HandleEvent,
		OnState: func(state chat.State) {
			s.sendJSON(map[string]any{"type": protocol.FrameConnectionState, "state": string(state)})
		},
		OnError: func(err error) {
			s.logger.Warn("chat error",
				zap.String("session_id", s.clientUID),
				zap.Error(err),
			)
		},
	}, s.logger)

	engine.SetSender(chatClient)

	s.mu.Lock()
	s.characterID = msg.CharacterID
	s.chat = chatClient
	s.engine = engine
	s.player = player
	s.recorder = recorder
	s.sink = sink
	s.mu.Unlock()

	if err := chatClient.Connect(ctx); err != nil {
		s.sendError("backend connection failed: " + err.Error())
		s.mu.Lock()
		s.started = false
		s.chat = nil
		s.mu.Unlock()
		if cerr := player.Close(); cerr != nil {
			s.logger.Debug("player close failed", zap.Error(cerr))
		}
	}
}

func (s *session) engineCallbacks(characterID string) appsession.Callbacks {
	return appsession.Callbacks{
		OnStarted: func(info appsession.StartInfo) {
			s.sendJSON(map[string]any{
				"type":           protocol.FrameSessionStarted,
				"session_id":     info.SessionID,
				"character_name": info.CharacterName,
				"max_turns":      info.MaxTurns,
			})
		},
		OnDifficultyRequest: func() {
			s.sendJSON(map[string]any{"type": protocol.FrameDifficultyRequest})
		},
		OnMessage: func(index int, msg appsession.Message) {
			s.sendJSON(map[string]any{
				"type":      protocol.FrameTranscriptMessage,
				"index":     index,
				"speaker":   string(msg.Speaker),
				"text":      msg.Text,
				"image_url": msg.ImageURL,
			})
		},
		OnImage: func(index int, imageURL string) {
			s.sendJSON(map[string]any{
				"type":      protocol.FrameTranscriptImage,
				"index":     index,
				"image_url": imageURL,
			})
		},
		OnTurn: func(turn int, max int) {
			s.sendJSON(map[string]any{
				"type":       protocol.FrameTurnUpdate,
				"turn_count": turn,
				"max_turns":  max,
			})
		},
		OnSuggestions: func(suggestions []string) {
			s.sendJSON(map[string]any{
				"type":        protocol.FrameSuggestedResponses,
				"suggestions": suggestions,
			})
		},
		OnStatus: func(message string) {
			s.sendJSON(map[string]any{"type": protocol.FrameStatus, "message": message})
		},
		OnPlay: func(chunks [][]byte) {
			if player := s.currentPlayer(); player != nil {
				player.PlayStream(chunks)
			}
		},
		OnCompleted: func(sessionID string) {
			s.archiveTranscript(characterID, sessionID)
			s.sendJSON(map[string]any{
				"type":       protocol.FrameSessionComplete,
				"session_id": sessionID,
			})
		},
		OnBlocked: func(message string) {
			s.sendJSON(map[string]any{"type": protocol.FrameBlocked, "message": message})
		},
		OnError: func(message string) {
			s.sendError(message)
		},
	}
}

func (s *session) archiveTranscript(characterID string, sessionID string) {
	engine := s.currentEngine()
	if engine == nil {
		return
	}
	record := storage.TranscriptRecord{
		SessionID:     sessionID,
		CharacterID:   characterID,
		CharacterName: engine.CharacterName(),
		TurnCount:     engine.TurnCount(),
		Messages:      engine.Messages(),
	}
	uid, err := storage.SaveTranscript(s.handler.config.TranscriptDir, record)
	if err != nil {
		s.logger.Warn("transcript archive failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("transcript archived",
		zap.String("session_id", sessionID),
		zap.String("transcript_uid", uid),
	)
}

// cleanup tears down the socket, the recorder, and the output sink.
// Each step runs regardless of earlier failures.
func (s *session) cleanup() {
	s.mu.Lock()
	chatClient, recorder, player := s.chat, s.recorder, s.player
	s.mu.Unlock()

	if chatClient != nil {
		chatClient.Close()
	}
	if recorder != nil && recorder.Recording() {
		if err := recorder.Stop(); err != nil {
			s.logger.Debug("recorder stop failed", zap.Error(err))
		}
	}
	if player != nil {
		if err := player.Close(); err != nil {
			s.logger.Debug("player close failed", zap.Error(err))
		}
	}
}

func (s *session) currentEngine() *appsession.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *session) currentRecorder() *audio.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder
}

func (s *session) currentPlayer() *audio.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *session) writeJSON(payload any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *session) sendJSON(payload any) {
	if err := s.writeJSON(payload); err != nil {
		s.logger.Debug("ws send failed", zap.Error(err))
	}
}

func (s *session) sendError(message string) {
	s.sendJSON(map[string]any{"type": protocol.FrameError, "message": message})
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.clientUID] = sess
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(clientUID string) {
	h.mu.Lock()
	delete(h.sessions, clientUID)
	h.mu.Unlock()
}

// characterDefaults resolves the avatar and greeting for a character from
// the catalog, falling back to local presets when the catalog is
// unreachable.
func (h *Handler) characterDefaults(ctx context.Context, characterID string) (string, string) {
	if h.api != nil {
		characters, err := h.api.Characters(ctx)
		if err != nil {
			h.logger.Warn("character catalog fetch failed", zap.Error(err))
		} else {
			for _, character := range characters {
				if character.ID == characterID {
					return character.ImageURL, character.InitMessage
				}
			}
		}
	}
	presets := appconfig.ScanCharacterPresets(h.config.PresetsDir)
	if preset, ok := presets[characterID]; ok {
		return preset.Avatar, preset.Greeting
	}
	return "", ""
}

// browserSink delivers assembled clips to the browser for playback. The
// browser reports natural completion via the playback-complete intent;
// visibility changes toggle the suspended flag.
type browserSink struct {
	sess   *session
	mu     sync.Mutex
	hidden bool
}

func (b *browserSink) Play(clip []byte) error {
	return b.sess.writeJSON(map[string]any{
		"type":  protocol.FrameAudioPlay,
		"audio": base64.StdEncoding.EncodeToString(clip),
	})
}

func (b *browserSink) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hidden
}

func (b *browserSink) Resume() error {
	if err := b.sess.writeJSON(map[string]any{"type": protocol.FrameAudioResume}); err != nil {
		return err
	}
	b.mu.Lock()
	b.hidden = false
	b.mu.Unlock()
	return nil
}

func (b *browserSink) Close() error {
	return nil
}

func (b *browserSink) setHidden(hidden bool) {
	b.mu.Lock()
	b.hidden = hidden
	b.mu.Unlock()
}

// browserDevice asks the browser to start and stop microphone capture.
type browserDevice struct {
	sess *session
}

func (d *browserDevice) Start() error {
	return d.sess.writeJSON(map[string]any{"type": protocol.FrameCaptureStart})
}

func (d *browserDevice) Stop() error {
	return d.sess.writeJSON(map[string]any{"type": protocol.FrameCaptureStop})
}

// attrSource adapts the browser-reported device attributes to the
// fingerprint source contract. A session that never reports attributes
// yields a fallback token.
type attrSource struct {
	userAgent string
	attrs     *protocol.DeviceAttributes
}

func (s attrSource) Attributes() (fingerprint.Attributes, error) {
	if s.attrs == nil {
		return fingerprint.Attributes{}, errors.New("no device attributes supplied")
	}
	pixels, err := base64.StdEncoding.DecodeString(s.attrs.PixelSignature)
	if err != nil {
		return fingerprint.Attributes{}, fmt.Errorf("pixel signature: %w", err)
	}
	return fingerprint.Attributes{
		PixelSignature:  pixels,
		UserAgent:       s.userAgent,
		Locale:          s.attrs.Locale,
		Platform:        s.attrs.Platform,
		ScreenWidth:     s.attrs.ScreenWidth,
		ScreenHeight:    s.attrs.ScreenHeight,
		ColorDepth:      s.attrs.ColorDepth,
		Timezone:        s.attrs.Timezone,
		DeviceMemoryGB:  s.attrs.DeviceMemoryGB,
		HardwareThreads: s.attrs.HardwareThreads,
	}, nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
