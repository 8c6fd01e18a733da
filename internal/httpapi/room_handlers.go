package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/authsession"
	"github.com/quillapp/quill-server/internal/broadcaster"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/gameloop"
	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/messageproc"
	"github.com/quillapp/quill-server/internal/metrics"
	"github.com/quillapp/quill-server/internal/room"
)

// writeWait bounds how long a single control-frame write may block.
const writeWait = 10 * time.Second

func (s *Server) handleCreateRoom(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid, _ := userID.(string)

	owner := events.Member{UserID: uid, Username: uid}
	r := room.New(owner)

	ctx := c.Request.Context()
	if err := r.ToCache(ctx, s.cache); err != nil {
		logging.Error(ctx, "failed to persist new room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	metrics.ActiveRooms.Inc()

	loop := gameloop.New(s.cache, s.words, s.gameCfg)
	go loop.Run(context.Background(), r.ID)

	c.JSON(http.StatusCreated, r)
}

func (s *Server) handleGetRoom(c *gin.Context) {
	roomID := c.Param("id")
	r, ok, err := room.FromCache(c.Request.Context(), s.cache, roomID)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to load room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == ""
	},
	WriteBufferPool: &sync.Pool{
		New: func() any { return make([]byte, 4096) },
	},
}

// checkOrigin returns an origin check bound to the configured allowed origin.
func checkOrigin(allowed string) func(*http.Request) bool {
	allowedURL, err := url.Parse(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if err != nil {
			return false
		}
		originURL, parseErr := url.Parse(origin)
		if parseErr != nil {
			return false
		}
		return originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host
	}
}

// handleRoom serves both the plain JSON room snapshot and the WebSocket
// upgrade on the same route, branching on the Upgrade header the way
// gorilla/websocket.Upgrader itself inspects it.
func (s *Server) handleRoom(c *gin.Context) {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		s.handleWebSocket(c)
		return
	}
	s.handleGetRoom(c)
}

// authFrame is the first message a client must send after the upgrade.
type authFrame struct {
	Authorization string `json:"Authorization"`
}

// closeReject sends a policy-violation close frame carrying reason; a failed
// write of the frame is ignored.
func closeReject(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// handleWebSocket upgrades the connection first, then loads the room, reads
// the auth frame, joins the caller, and bridges their socket with the room's
// pub/sub channel until they leave. Every rejection after the upgrade closes
// with 1008 rather than writing an HTTP response, since the handshake has
// already completed.
func (s *Server) handleWebSocket(c *gin.Context) {
	if !s.limiter.CheckWebSocket(c) {
		return
	}

	roomID := c.Param("id")

	up := upgrader
	up.CheckOrigin = checkOrigin(s.cfg.AllowedOrigins)
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade websocket", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	bgCtx := context.Background()
	r, ok, err := room.FromCache(bgCtx, s.cache, roomID)
	if err != nil {
		logging.Error(bgCtx, "failed to load room for websocket", zap.Error(err))
		closeReject(conn, "internal error")
		return
	}
	if !ok {
		closeReject(conn, "room not found")
		return
	}

	var frame authFrame
	if err := conn.ReadJSON(&frame); err != nil {
		closeReject(conn, "missing or malformed auth frame")
		return
	}
	token, ok := authsession.ExtractBearerToken(frame.Authorization)
	if !ok {
		closeReject(conn, "missing bearer token")
		return
	}

	sess, err := s.sessions.Get(bgCtx, token)
	if err != nil {
		closeReject(conn, "invalid or expired session")
		return
	}
	u, err := s.users.GetByID(sess.UserID)
	if err != nil {
		closeReject(conn, "unknown user")
		return
	}
	member := events.Member{UserID: u.ID, Username: u.Username}

	if err := r.Join(bgCtx, s.cache, member); err != nil {
		closeReject(conn, err.Error())
		return
	}

	metrics.IncConnection()
	metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(len(r.Users)))
	defer metrics.DecConnection()

	b := broadcaster.New(conn, s.cache, r, member)
	if err := b.Join(bgCtx); err != nil {
		logging.Error(bgCtx, "failed to announce join", zap.Error(err))
		return
	}
	b.SpawnRelay(bgCtx)

	s.readLoop(bgCtx, conn, r, member, b)

	if err := r.Leave(context.Background(), s.cache, member); err != nil {
		logging.Error(context.Background(), "failed to remove member on disconnect", zap.Error(err))
	}
	if err := b.Leave(context.Background()); err != nil {
		logging.Error(context.Background(), "failed to announce leave", zap.Error(err))
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, r *room.Room, member events.Member, b *broadcaster.Broadcaster) {
	for {
		var inbound events.InboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}

		env, err := messageproc.Process(ctx, inbound, r, member, s.cache)
		if err != nil {
			logging.Error(ctx, "failed to process inbound message", zap.Error(err))
			if errors.Is(err, messageproc.ErrMalformedMessage) {
				if errEnv, buildErr := events.New(events.TypeError, events.ErrorData{Message: "malformed message"}); buildErr == nil {
					_ = b.SendPersonal(errEnv)
				}
			}
			continue
		}

		if env.EventType == events.TypeError {
			if err := b.SendPersonal(env); err != nil {
				logging.Error(ctx, "failed to send error to sender", zap.Error(err))
			}
			continue
		}

		if err := b.Emit(ctx, env); err != nil {
			logging.Error(ctx, "failed to emit processed event", zap.Error(err))
		}
	}
}
