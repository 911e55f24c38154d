package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// MIMEApplicationNDJSON is the content type of the framed event stream.
const MIMEApplicationNDJSON = "application/x-ndjson"

// handleEvents attaches as the execution's single consumer and writes every
// event in the wire framing until the sequence ends or the client leaves.
func (s *Server) handleEvents(c echo.Context) error {
	id := c.Param("id")
	events, err := s.engine.StreamEvents(c.Request().Context(), id)
	if err != nil {
		return s.fail(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, MIMEApplicationNDJSON)
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	enc := stream.NewEncoder(res)
	n := 0
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug("event stream write failed", zap.String("execution_id", id), zap.Error(err))
			return nil
		}
		res.Flush()
		n++
	}
	s.logger.Debug("event stream finished", zap.String("execution_id", id), zap.Int("events", n))
	return nil
}

// handleSSE follows the execution on the event bus. Any number of clients
// may follow the same execution; each sees events published after it joined.
func (s *Server) handleSSE(c echo.Context) error {
	if s.bridge == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event bus is not configured")
	}
	id := c.Param("id")
	exec, err := s.engine.GetExecution(id)
	if err != nil {
		return s.fail(err)
	}
	if exec.Status.IsTerminal() {
		return echo.NewHTTPError(http.StatusGone, fmt.Sprintf("execution %s already %s", id, exec.Status))
	}

	events, err := s.bridge.Subscribe(c.Request().Context(), id)
	if err != nil {
		return s.fail(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for ev := range events {
		data, err := json.Marshal(sseEvent{Type: ev.Type, Event: ev})
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}

// sseEvent carries the type inside the data so clients that ignore the
// event field still see it.
type sseEvent struct {
	Type stream.Type `json:"type"`
	stream.Event
}
