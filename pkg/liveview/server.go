package liveview

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/reelchat/pkg/redisstream"
)

const (
	FrameHydrate  = "hydrate"
	FrameSnapshot = "snapshot"
)

// Frame is what viewers receive over the websocket. The first frame on every
// connection is a hydrate frame built from the transcript store; snapshot
// frames follow as the conversation changes.
type Frame struct {
	Type     string        `json:"type"`
	Seq      uint64        `json:"seq,omitempty"`
	StreamID string        `json:"stream_id,omitempty"`
	Snapshot chat.Snapshot `json:"snapshot"`
}

// Server serves live transcript views over websockets plus a small read API
// over recorded conversations.
type Server struct {
	pubsub      *redisstream.PubSub
	store       chatstore.TranscriptStore
	upgrader    websocket.Upgrader
	idleTimeout time.Duration
	viewerID    string
	logger      zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	convs map[string]*viewedConv
}

type viewedConv struct {
	pool  *ConnectionPool
	coord *StreamCoordinator
	owned bool
}

type ServerOption func(*Server)

// WithIdleTimeout stops a conversation's subscription once it has had no
// viewers for d. Zero keeps subscriptions until Close.
func WithIdleTimeout(d time.Duration) ServerOption { return func(s *Server) { s.idleTimeout = d } }

func WithUpgrader(u websocket.Upgrader) ServerOption { return func(s *Server) { s.upgrader = u } }

func NewServer(ps *redisstream.PubSub, store chatstore.TranscriptStore, opts ...ServerOption) (*Server, error) {
	if ps == nil {
		return nil, errors.New("liveview: pubsub is nil")
	}
	s := &Server{
		pubsub:      ps,
		store:       store,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		idleTimeout: 30 * time.Second,
		viewerID:    "liveview-" + uuid.NewString(),
		logger:      log.With().Str("component", "liveview").Logger(),
		convs:       map[string]*viewedConv{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleMessages)
	return mux
}

// Viewers returns the number of connected viewers of convID.
func (s *Server) Viewers(convID string) int {
	s.mu.Lock()
	vc := s.convs[convID]
	s.mu.Unlock()
	if vc == nil {
		return 0
	}
	return vc.pool.Count()
}

func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	convs := s.convs
	s.convs = map[string]*viewedConv{}
	s.mu.Unlock()
	for _, vc := range convs {
		vc.shutdown()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	convID := strings.TrimSpace(r.URL.Query().Get("conv_id"))
	if convID == "" {
		http.Error(w, "missing conv_id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	vc, err := s.ensureConv(convID)
	if err != nil {
		s.logger.Error().Err(err).Str("conv_id", convID).Msg("could not start conversation stream")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream unavailable"))
		_ = conn.Close()
		return
	}

	vc.pool.Add(conn)
	hydrate, err := s.hydrateFrame(r.Context(), convID)
	if err != nil {
		s.logger.Warn().Err(err).Str("conv_id", convID).Msg("hydration failed")
	} else {
		vc.pool.SendToOne(conn, hydrate)
	}
	s.logger.Info().Str("conv_id", convID).Int("viewers", vc.pool.Count()).Msg("viewer attached")

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				vc.pool.Remove(conn)
				s.logger.Debug().Err(err).Str("conv_id", convID).Msg("viewer detached")
				return
			}
		}
	}()
}

func (s *Server) ensureConv(convID string) (*viewedConv, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vc := s.convs[convID]; vc != nil {
		return vc, nil
	}
	sub, owned, err := s.pubsub.SubscriberFor(s.baseCtx, convID, s.viewerID)
	if err != nil {
		return nil, err
	}
	vc := &viewedConv{owned: owned}
	vc.pool = NewConnectionPool(convID, s.idleTimeout, func() { s.evict(convID, vc) })
	vc.coord = NewStreamCoordinator(convID, sub, func(snap chat.Snapshot, cur StreamCursor) {
		b, err := json.Marshal(Frame{Type: FrameSnapshot, Seq: cur.Seq, StreamID: cur.StreamID, Snapshot: snap})
		if err != nil {
			s.logger.Warn().Err(err).Str("conv_id", convID).Msg("encode frame")
			return
		}
		vc.pool.Broadcast(b)
	})
	if err := vc.coord.Start(s.baseCtx); err != nil {
		if owned {
			_ = sub.Close()
		}
		return nil, err
	}
	s.convs[convID] = vc
	return vc, nil
}

func (s *Server) evict(convID string, vc *viewedConv) {
	s.mu.Lock()
	if s.convs[convID] != vc || !vc.pool.IsEmpty() {
		s.mu.Unlock()
		return
	}
	delete(s.convs, convID)
	s.mu.Unlock()
	vc.shutdown()
	s.logger.Info().Str("conv_id", convID).Msg("conversation idle, stream stopped")
}

func (vc *viewedConv) shutdown() {
	if vc.owned {
		vc.coord.Close()
	} else {
		vc.coord.Stop()
	}
	vc.pool.CloseAll()
}

func (s *Server) hydrateFrame(ctx context.Context, convID string) ([]byte, error) {
	snap := chat.Snapshot{ConvID: convID}
	if s.store != nil {
		msgs, err := s.store.ListMessages(ctx, convID, 0)
		if err != nil {
			return nil, err
		}
		snap.Messages = msgs
	}
	return json.Marshal(Frame{Type: FrameHydrate, Snapshot: snap})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "transcript store not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since_ms"), 10, 64)
	convs, err := s.store.ListConversations(r.Context(), limit, sinceMs)
	if err != nil {
		s.logger.Error().Err(err).Msg("list conversations")
		http.Error(w, "could not list conversations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"conversations": convs})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "transcript store not configured", http.StatusServiceUnavailable)
		return
	}
	convID := strings.TrimSpace(r.PathValue("id"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.store.ListMessages(r.Context(), convID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("conv_id", convID).Msg("list messages")
		http.Error(w, "could not list messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, map[string]any{"conv_id": convID, "messages": msgs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "liveview").Msg("write response")
	}
}
