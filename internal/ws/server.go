package ws

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/udisondev/blastio/internal/auth"
	"github.com/udisondev/blastio/internal/cache"
	"github.com/udisondev/blastio/internal/game"
	"github.com/udisondev/blastio/internal/match"
	"github.com/udisondev/blastio/internal/matchmaker"
	"github.com/udisondev/blastio/internal/metrics"
	"github.com/udisondev/blastio/internal/relay"
)

// rate limit ceilings per 60s window.
const (
	rateLimitMatchmaking = 10
	rateLimitGuestAuth   = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server ties the connection layer together: the HTTP endpoints, the
// upgrade/auth flow and the full inbound message handler set.
type Server struct {
	tokens   *auth.TokenManager
	cache    *cache.Cache
	registry *Registry
	rooms    *RoomRegistry
	router   *Router
	mm       *matchmaker.Matchmaker
	matches  *match.Manager
	relay    *relay.Relay
	metrics  *metrics.Registry

	sendQueueSize int
}

// NewServer wires the endpoints and registers every message handler.
func NewServer(
	tokens *auth.TokenManager,
	c *cache.Cache,
	registry *Registry,
	rooms *RoomRegistry,
	router *Router,
	mm *matchmaker.Matchmaker,
	matches *match.Manager,
	rl *relay.Relay,
	reg *metrics.Registry,
	sendQueueSize int,
) *Server {
	s := &Server{
		tokens:        tokens,
		cache:         c,
		registry:      registry,
		rooms:         rooms,
		router:        router,
		mm:            mm,
		matches:       matches,
		relay:         rl,
		metrics:       reg,
		sendQueueSize: sendQueueSize,
	}
	s.registerHandlers()
	return s
}

// Handler returns the HTTP mux for the listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/guest", s.handleGuestAuth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) authOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.AuthAttempts.WithLabelValues(outcome).Inc()
	}
}

// handleUpgrade runs the full admission flow: verify the signed token,
// require a live session, honor the blacklist, then upgrade and hand
// the socket to its pumps.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.UpgradeSeconds.Observe(time.Since(start).Seconds())
		}
	}()
	ctx := r.Context()

	rawToken, err := auth.TokenFromRequest(r)
	if err != nil {
		s.authOutcome("missing_token")
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := s.tokens.Verify(rawToken)
	if err != nil {
		s.authOutcome("invalid_token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if _, err := s.cache.GetSession(ctx, claims.UserID); err != nil {
		s.authOutcome("no_session")
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}

	hash := sha1.Sum([]byte(rawToken))
	if blocked, err := s.cache.IsTokenBlacklisted(ctx, hex.EncodeToString(hash[:])); err != nil {
		slog.Warn("blacklist check failed, admitting", "user", claims.UserID, "error", err)
	} else if blocked {
		s.authOutcome("blacklisted")
		http.Error(w, "token revoked", http.StatusUnauthorized)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.authOutcome("upgrade_failed")
		slog.Warn("websocket upgrade", "user", claims.UserID, "error", err)
		return
	}
	s.authOutcome("ok")

	conn := NewConn(sock, claims.UserID, claims.Username, s.sendQueueSize)
	conn.PongHook = func(rtt time.Duration) {
		conn.TrySend(MsgLatencyUpdate, map[string]int64{"latencyMs": rtt.Milliseconds()})
		hctx, cancel := opCtx()
		defer cancel()
		if err := s.cache.TouchOnline(hctx, conn.UserID); err != nil {
			slog.Debug("touching online set", "user", conn.UserID, "error", err)
		}
	}

	s.registry.Add(conn)
	s.relay.PublishSessionClaim(claims.UserID)

	if err := s.cache.TouchOnline(ctx, claims.UserID); err != nil {
		slog.Debug("touching online set", "user", claims.UserID, "error", err)
	}
	if err := s.cache.IncrServerMetric(ctx, "connections_total", 1); err != nil {
		slog.Debug("bumping server metric", "error", err)
	}

	slog.Info("connection accepted", "user", claims.UserID, "username", claims.Username)
	_ = conn.Send(MsgAuthenticated, map[string]string{
		"userID":   claims.UserID,
		"username": claims.Username,
	})

	go s.serve(conn)
}

// serve runs the connection to completion, then cascades the teardown:
// registry entry, room memberships, match bookkeeping.
func (s *Server) serve(conn *Conn) {
	conn.Run(s.router)

	s.registry.Remove(conn)
	for _, rm := range s.rooms.LeaveAllRooms(conn) {
		rm.Broadcast(MsgRoomMemberLeft, map[string]string{
			"roomId": rm.ID,
			"userID": conn.UserID,
		}, "")
	}
	s.matches.MarkDisconnected(conn.UserID)

	slog.Info("connection closed", "user", conn.UserID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
		"rooms":       s.rooms.Count(),
	})
}

// handleGuestAuth mints a transient guest identity: a signed token
// plus the session record the upgrade flow requires. This is the
// minimal producer of the token/session contract; full account auth
// lives in the external auth service.
func (s *Server) handleGuestAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := "guest_" + uuid.NewString()
	username := "Guest-" + userID[len(userID)-6:]

	if n, err := s.cache.RateLimit(ctx, clientIP(r), "auth_guest"); err == nil && n > rateLimitGuestAuth {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	token, err := s.tokens.Generate(userID, username)
	if err != nil {
		slog.Error("generating guest token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	err = s.cache.PutSession(ctx, cache.Session{
		UserID:   userID,
		Username: username,
		Token:    token,
		IsGuest:  true,
	})
	if err != nil {
		slog.Error("writing guest session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"userID":   userID,
		"username": username,
		"token":    token,
	})
}

// opCtx bounds cache and queue operations triggered by a single
// inbound message. Handlers run off the read pump, so a stuck Redis
// call must not hang the connection forever.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// --- message handlers ---

func (s *Server) registerHandlers() {
	s.router.Register(MsgRoomJoin, s.handleRoomJoin)
	s.router.Register(MsgRoomLeave, s.handleRoomLeave)
	s.router.Register(MsgRoomMessage, s.handleRoomMessage)
	s.router.Register(MsgMatchmakingJoin, s.handleMatchmakingJoin)
	s.router.Register(MsgMatchmakingLeave, s.handleMatchmakingLeave)
	s.router.Register(MsgMatchJoin, s.handleMatchJoin)
	s.router.Register(MsgPlayerInput, s.handlePlayerInput)
	s.router.Register(MsgShoot, s.handleShoot)
	s.router.Register(MsgCollectLoot, s.handleCollectLoot)
	s.router.Register(MsgSwitchWeapon, s.handleSwitchWeapon)
}

type roomPayload struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name,omitempty"`
	MaxSize int    `json:"maxSize,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleRoomJoin(c *Conn, payload json.RawMessage) error {
	var p roomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		return errors.New("invalid room:join payload")
	}

	rm, err := s.rooms.JoinRoom(p.RoomID, c, true, p.MaxSize)
	if err != nil {
		return fmt.Errorf("joining room %s: %w", p.RoomID, err)
	}

	rm.Broadcast(MsgRoomMemberJoined, map[string]string{
		"roomId":   rm.ID,
		"userID":   c.UserID,
		"username": c.Username,
	}, c.UserID)

	return c.Send(MsgRoomJoined, map[string]any{
		"roomId":  rm.ID,
		"name":    rm.Name,
		"members": rm.MemberIDs(),
	})
}

func (s *Server) handleRoomLeave(c *Conn, payload json.RawMessage) error {
	var p roomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		return errors.New("invalid room:leave payload")
	}

	rm, err := s.rooms.LeaveRoom(p.RoomID, c)
	if err != nil {
		return fmt.Errorf("leaving room %s: %w", p.RoomID, err)
	}

	rm.Broadcast(MsgRoomMemberLeft, map[string]string{
		"roomId": rm.ID,
		"userID": c.UserID,
	}, "")

	return c.Send(MsgRoomLeft, map[string]string{"roomId": rm.ID})
}

func (s *Server) handleRoomMessage(c *Conn, payload json.RawMessage) error {
	var p roomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		return errors.New("invalid room:message payload")
	}
	if !c.IsInRoom(p.RoomID) {
		return ErrNotInRoom
	}

	rm := s.rooms.Get(p.RoomID)
	if rm == nil {
		return ErrRoomNotFound
	}

	rm.Broadcast(MsgRoomMessage, map[string]string{
		"roomId":   rm.ID,
		"userID":   c.UserID,
		"username": c.Username,
		"message":  p.Message,
	}, c.UserID)
	return nil
}

func (s *Server) handleMatchmakingJoin(c *Conn, _ json.RawMessage) error {
	ctx, cancel := opCtx()
	defer cancel()

	if n, err := s.cache.RateLimit(ctx, c.UserID, "matchmaking"); err == nil && n > rateLimitMatchmaking {
		return errors.New("matchmaking rate limit exceeded")
	}

	if err := s.mm.Join(ctx, c.UserID, c.Username); err != nil {
		_ = c.Send(MsgMatchmakingError, errorPayload{Message: "failed to join queue"})
		return fmt.Errorf("joining matchmaking: %w", err)
	}
	return nil
}

func (s *Server) handleMatchmakingLeave(c *Conn, _ json.RawMessage) error {
	ctx, cancel := opCtx()
	defer cancel()

	if err := s.mm.Leave(ctx, c.UserID); err != nil {
		return fmt.Errorf("leaving matchmaking: %w", err)
	}
	return nil
}

func (s *Server) handleMatchJoin(c *Conn, payload json.RawMessage) error {
	var p struct {
		MatchID string `json:"matchId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.MatchID == "" {
		return errors.New("invalid match:join payload")
	}

	ctx, cancel := opCtx()
	defer cancel()

	assignment, err := s.cache.GetMatchAssignment(ctx, c.UserID)
	if err != nil {
		return errors.New("no match assignment")
	}
	if assignment.MatchID != p.MatchID {
		return errors.New("assignment does not match requested match")
	}

	m, err := s.matches.Get(p.MatchID)
	if err != nil {
		return fmt.Errorf("joining match %s: %w", p.MatchID, err)
	}

	if err := m.AddPlayer(c.UserID, c.Username); err != nil {
		return fmt.Errorf("joining match %s: %w", p.MatchID, err)
	}

	return c.Send(MsgMatchJoined, map[string]any{
		"matchId":     m.ID,
		"playerCount": assignment.PlayerCount,
	})
}

func (s *Server) handlePlayerInput(c *Conn, payload json.RawMessage) error {
	var input game.PlayerInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return errors.New("invalid player_input payload")
	}

	m, err := s.matches.MatchFor(c.UserID)
	if err != nil {
		return errors.New("not in a match")
	}

	return m.QueueCommand(game.Command{
		Kind:       game.CmdInput,
		UserID:     c.UserID,
		Input:      input,
		ClientTick: input.Tick,
	})
}

func (s *Server) handleShoot(c *Conn, payload json.RawMessage) error {
	var p struct {
		Angle float64 `json:"angle"`
		Tick  int64   `json:"tick"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid shoot payload")
	}

	m, err := s.matches.MatchFor(c.UserID)
	if err != nil {
		return errors.New("not in a match")
	}

	return m.QueueCommand(game.Command{
		Kind:       game.CmdShoot,
		UserID:     c.UserID,
		Angle:      p.Angle,
		ClientTick: p.Tick,
	})
}

func (s *Server) handleCollectLoot(c *Conn, payload json.RawMessage) error {
	var p struct {
		LootID string `json:"lootId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.New("invalid collect_loot payload")
	}

	m, err := s.matches.MatchFor(c.UserID)
	if err != nil {
		return errors.New("not in a match")
	}

	return m.QueueCommand(game.Command{
		Kind:   game.CmdCollect,
		UserID: c.UserID,
		LootID: p.LootID,
	})
}

func (s *Server) handleSwitchWeapon(c *Conn, payload json.RawMessage) error {
	var p struct {
		Weapon game.WeaponKind `json:"weapon"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || !p.Weapon.Valid() {
		return errors.New("invalid switch_weapon payload")
	}

	m, err := s.matches.MatchFor(c.UserID)
	if err != nil {
		return errors.New("not in a match")
	}

	return m.QueueCommand(game.Command{
		Kind:   game.CmdSwitchWeapon,
		UserID: c.UserID,
		Weapon: p.Weapon,
	})
}
