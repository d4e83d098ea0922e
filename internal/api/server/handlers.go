package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/events"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func (s *Server) statusHandler(c echo.Context) error {
	status := StatusResponse{
		Status: "ok",
		State:  s.session.State().String(),
	}
	if s.model != nil {
		status.Model = s.model()
	}
	return c.JSON(http.StatusOK, status)
}

type ModelsResponse struct {
	Models  []string `json:"models"`
	Current string   `json:"current,omitempty"`
}

func (s *Server) modelHandler(c echo.Context) error {
	if s.catalog == nil {
		return c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "model listing is not configured"})
	}
	models, err := s.catalog.Refresh(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list models")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}
	resp := ModelsResponse{Models: models}
	if s.model != nil {
		resp.Current = s.model()
	}
	return c.JSON(http.StatusOK, resp)
}

// chatHandler runs one exchange and streams its events back as NDJSON. Only events of
// this request are written; other connections see them on /ws.
func (s *Server) chatHandler(c echo.Context) error {
	var req ChatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: controller.ErrEmptyInput.Error()})
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(controller.WithRequestID(c.Request().Context(), id))
	defer cancel()
	log := s.log.With().Str("request_id", id).Logger()

	// Subscribe before sending so no event of this exchange is missed.
	msgs, err := s.events.Subscribe(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	done := make(chan error, 1)
	go func() {
		done <- s.session.Send(ctx, req.Text)
	}()

	resp := c.Response()
	encoder := json.NewEncoder(resp)
	started := false

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				// client went away, Send sees the cancelled context
				msgs = nil
				continue
			}
			ev, _, err := events.Decode(msg)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Msg("dropping event")
				continue
			}
			if ev.RequestID != id || ev.Type == controller.EventBusyRejected {
				continue
			}
			if !started {
				resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
				resp.Header().Set("Cache-Control", "no-cache")
				resp.WriteHeader(http.StatusOK)
				started = true
			}
			if err := encoder.Encode(ev); err != nil {
				log.Debug().Err(err).Msg("client write failed")
				continue
			}
			resp.Flush()

		case err := <-done:
			switch {
			case errors.Is(err, controller.ErrBusy) && !started:
				return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			case err != nil && !started:
				return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			case err != nil:
				log.Error().Err(err).Msg("exchange failed")
			}
			return nil
		}
	}
}

func (s *Server) stopHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, StopResponse{Stopped: s.session.Stop()})
}

func (s *Server) historyHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.history())
}

func (s *Server) history() []conversation.Turn {
	turns := s.session.History()
	if turns == nil {
		return []conversation.Turn{}
	}
	return turns
}

func (s *Server) restoreHandler(c echo.Context) error {
	var turns []conversation.Turn
	if err := json.NewDecoder(c.Request().Body).Decode(&turns); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid history"})
	}
	if err := s.session.Restore(turns); err != nil {
		return c.JSON(historyStatus(err), ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, s.history())
}

func (s *Server) resetHandler(c echo.Context) error {
	if err := s.session.Reset(); err != nil {
		return c.JSON(historyStatus(err), ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func historyStatus(err error) int {
	switch {
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
