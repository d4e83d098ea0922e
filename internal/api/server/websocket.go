package server

import (
	"context"
	"sync"
	"time"

	"github.com/bz888/studyhelper/internal/controller"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeWait = 10 * time.Second

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

// wsHandler forwards every session event to the client and accepts send and stop
// actions. Closing the socket cancels the exchanges it started.
func (s *Server) wsHandler(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	msgs, err := s.events.Subscribe(ctx)
	if err != nil {
		_ = ws.writeJSON(ErrorResponse{Error: err.Error()})
		return nil
	}
	s.log.Info().Str("remote", c.RealIP()).Msg("websocket connected")

	go func() {
		defer cancel()
		for msg := range msgs {
			err := ws.write(websocket.TextMessage, msg.Payload)
			msg.Ack()
			if err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}()

	for {
		var in WSMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read failed")
			}
			s.log.Info().Str("remote", c.RealIP()).Msg("websocket disconnected")
			return nil
		}

		switch in.Action {
		case "send":
			go func(text string) {
				// rejections are reported as events
				_ = s.session.Send(controller.WithRequestID(ctx, uuid.NewString()), text)
			}(in.Text)
		case "stop":
			s.session.Stop()
		case "reset":
			if err := s.session.Reset(); err != nil {
				_ = ws.writeJSON(ErrorResponse{Error: err.Error()})
			}
		default:
			_ = ws.writeJSON(ErrorResponse{Error: "unknown action " + in.Action})
		}
	}
}
