package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"qrgate/pkg/models"
	"qrgate/pkg/notify"

	"github.com/labstack/echo/v4"
)

// streamEvents relays router events as Server-Sent Events until the client
// disconnects. Events published while a client's buffer is full are dropped
// for that client.
func (s *Server) streamEvents(ctx echo.Context) error {
	listener := notify.NewChannel(eventBufferSize)
	subscription := s.notifier.Register(listener)
	defer s.notifier.Unregister(subscription)

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(resp, ": connected\n\n"); err != nil {
		return nil
	}
	resp.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case event := <-listener.C:
			if err := writeEvent(resp, event); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream closed")
				return nil
			}
			resp.Flush()
		}
	}
}

func writeEvent(w *echo.Response, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}
