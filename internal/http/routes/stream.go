package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/auth"
	"github.com/queuecx/dashboard/internal/remote"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	streamBuf  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// pump writes every value from out to conn until the client goes away.
// Incoming frames are only read to notice pongs and closes.
func pump[T any](conn *websocket.Conn, out <-chan T, log *zerolog.Logger) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case v := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleActivityStream pushes the caller's activity changes over a websocket.
// Events are dropped rather than queued when the client falls behind.
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	uid := currentUser(r)
	log := hlog.FromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close() //nolint:errcheck

	out := make(chan remote.ChangeEvent, streamBuf)
	unsubscribe, err := s.Backend.SubscribeToUserActivity(r.Context(), uid, func(ev remote.ChangeEvent) {
		select {
		case out <- ev:
		default:
			log.Warn().Str("user_id", uid).Msg("activity stream full, dropping event")
		}
	})
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer unsubscribe()

	log.Debug().Str("user_id", uid).Msg("activity stream opened")
	pump[remote.ChangeEvent](conn, out, log)
	log.Debug().Str("user_id", uid).Msg("activity stream closed")
}

// authEvent is an auth.Event without tokens.
type authEvent struct {
	Event  auth.EventType `json:"event"`
	UserID string         `json:"user_id"`
	At     time.Time      `json:"at"`
}

// handleAuthEvents streams the caller's auth state changes.
func (s *Server) handleAuthEvents(w http.ResponseWriter, r *http.Request) {
	u, err := s.Backend.GetUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log := hlog.FromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close() //nolint:errcheck

	out := make(chan authEvent, streamBuf)
	if s.Auth != nil {
		stop := s.Auth.Events().Subscribe(func(ev auth.Event) {
			if ev.UserID != u.ID {
				return
			}
			select {
			case out <- authEvent{Event: ev.Type, UserID: ev.UserID, At: ev.At}:
			default:
			}
		})
		defer stop()
	}
	pump[authEvent](conn, out, log)
}
