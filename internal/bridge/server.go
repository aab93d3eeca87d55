package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"callcenter-platform/internal/telephony"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = pingInterval + 15*time.Second
	writeWait    = 10 * time.Second
)

// Server accepts media stream connections and runs one Session per
// connection until it ends.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider connects from rotating egress IPs
			// with no Origin header worth checking.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: deps.Logger,
	}
}

// HandleMediaStream is the gin handler for the stream endpoint. It
// blocks for the lifetime of the call.
func (s *Server) HandleMediaStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("media stream upgrade failed", "err", err)
		return
	}

	baseParams := make(map[string]string)
	for _, key := range []string{"callType", "campaignId", "leadId", "agentId"} {
		if v := c.Query(key); v != "" {
			baseParams[key] = v
		}
	}

	sess := NewSession(&wsWriter{conn: conn}, baseParams, s.deps)
	s.run(conn, sess)
}

// run owns the connection: read loop plus the outbound and liveness
// goroutines. Returns when the connection is gone and the session is
// torn down.
func (s *Server) run(conn *websocket.Conn, sess *Session) {
	defer func() {
		sess.Teardown(telephony.CallStatusCompleted)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go sess.writePump()

	// A connection that never answers a ping is dead; the read deadline
	// expires and the read loop exits, releasing everything.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sess.closed:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("media stream read ended", "call_sid", sess.CallSID(), "err", err)
			}
			return
		}
		sess.handleFrame(data)
		if sess.State() == StateClosed {
			return
		}
	}
}

// wsWriter serializes writes; the websocket allows one concurrent
// writer and frames come from both the write pump and event handlers.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}
