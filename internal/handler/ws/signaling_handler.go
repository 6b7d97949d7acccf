package ws

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vidlink-backend/internal/middleware"
	"vidlink-backend/internal/signaling"
	"vidlink-backend/pkg/jwt"
	"vidlink-backend/pkg/logger"
	"vidlink-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// SignalingHandler upgrades HTTP requests to WebSocket connections and hands
// each one to a signaling session
type SignalingHandler struct {
	registry   *signaling.Registry
	directory  *signaling.Directory
	router     *signaling.Router
	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics

	upgrader websocket.Upgrader

	// Semaphore for limiting concurrent connections
	maxConnections int
	semaphore      chan struct{}
}

// NewSignalingHandler creates a new signaling handler. m may be nil
func NewSignalingHandler(registry *signaling.Registry, directory *signaling.Directory, router *signaling.Router, jwtManager *jwt.JWTManager, m *metrics.Metrics) *SignalingHandler {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	allowed := middleware.AllowedOrigins()

	return &SignalingHandler{
		registry:   registry,
		directory:  directory,
		router:     router,
		jwtManager: jwtManager,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Reject empty origins - require explicit origin for security
					return false
				}
				return allowed[origin]
			},
		},
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// client is one live WebSocket connection. Outbound frames go through a
// buffered channel so a slow reader cannot block the routing path. The send
// channel is never closed: routing goroutines may hold a peer snapshot taken
// before teardown, so shutdown is signalled through done instead.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	downOnce sync.Once
	userID   uuid.UUID
	username string
}

func (c *client) UserID() uuid.UUID { return c.userID }
func (c *client) Username() string  { return c.username }

// shutdown marks the connection dead and releases writePump. Safe to call
// more than once.
func (c *client) shutdown() {
	c.downOnce.Do(func() { close(c.done) })
}

// Deliver queues one frame for the connection. A torn-down connection or a
// full buffer means the frame is dropped; the routing layer decides what to
// log.
func (c *client) Deliver(data []byte) error {
	select {
	case <-c.done:
		return signaling.ErrPeerGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return signaling.ErrPeerGone
	default:
		return signaling.ErrSlowConsumer
	}
}

// ServeWS handles WebSocket requests for signaling. The connection is
// admitted only after the upgrade so refusals can be delivered as proper
// close frames
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	defer func() {
		<-h.semaphore
	}()

	callIDStr := c.Query("call_id")
	if callIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	callID, err := uuid.Parse(callIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call_id"})
		return
	}

	claims := h.identify(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	if claims != nil {
		cl.userID = claims.UserID
		cl.username = claims.Username
	}

	session := signaling.NewSession(callID, cl, h.registry, h.directory, h.router)

	if err := session.Admit(c.Request.Context()); err != nil {
		h.refuse(conn, callID, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	logger.Info("signaling connection opened",
		zap.String("call_id", callID.String()),
		zap.String("user_id", cl.userID.String()))

	go cl.writePump()
	h.readPump(cl, session, callID)
}

// identify resolves the caller's identity from the Authorization header or,
// for browser WebSocket clients that cannot set headers, a token query
// param. Returns nil when no valid identity is presented
func (h *SignalingHandler) identify(c *gin.Context) *jwt.Claims {
	tokenStr := ""
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenStr = strings.TrimPrefix(auth, "Bearer ")
	} else if t := c.Query("token"); t != "" {
		tokenStr = t
	}
	if tokenStr == "" {
		return nil
	}

	claims, err := h.jwtManager.ValidateToken(tokenStr)
	if err != nil {
		logger.Debug("invalid token on signaling connect", zap.Error(err))
		return nil
	}
	return claims
}

// refuse closes a just-upgraded connection that failed admission. Anonymous
// connections get a policy-violation close; everything else a normal close
// with the reason
func (h *SignalingHandler) refuse(conn *websocket.Conn, callID uuid.UUID, admitErr error) {
	code := websocket.CloseNormalClosure
	reason := "admission refused"
	if admitErr == signaling.ErrAnonymous {
		code = websocket.ClosePolicyViolation
		reason = "authentication required"
	}

	logger.Info("signaling connection refused",
		zap.String("call_id", callID.String()),
		zap.String("reason", reason),
		zap.Error(admitErr))

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}

// readPump reads frames from the connection and feeds them to the session.
// It blocks until the connection drops, then tears the session down.
func (h *SignalingHandler) readPump(cl *client, session *signaling.Session, callID uuid.UUID) {
	defer func() {
		session.Close()
		cl.shutdown()
		cl.conn.Close()
		if h.metrics != nil {
			h.metrics.ConnectionClosed()
		}
		logger.Info("signaling connection closed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", cl.userID.String()))
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed unexpectedly",
					zap.String("call_id", callID.String()),
					zap.String("user_id", cl.userID.String()),
					zap.Error(err))
			}
			return
		}

		session.HandleInbound(message)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
