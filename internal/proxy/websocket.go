// Package proxy relays a client websocket to the CDP endpoint of a batch's
// live browser, for watching or debugging a run.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/flowreel/internal/batch"
	"github.com/shehryarbajwa/flowreel/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Targets resolves a batch id to the CDP websocket of its browser
type Targets interface {
	ConnectURL(batchID string) (string, error)
}

type Server struct {
	targets Targets
	logger  *slog.Logger
}

func NewServer(targets Targets, log *slog.Logger) *Server {
	return &Server{
		targets: targets,
		logger:  logger.OrDefault(log),
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, batchID string) {
	log := s.logger.With("batch_id", batchID)

	chromeURL, err := s.targets.ConnectURL(batchID)
	switch {
	case errors.Is(err, batch.ErrBatchNotFound):
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Batch has no live browser", http.StatusConflict)
		return
	}

	// Upgrade HTTP connection to WebSocket
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, chromeURL, nil)
	if err != nil {
		log.Error("failed to connect to browser", "url", chromeURL, "error", err)
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("Error connecting: %v", err)))
		return
	}
	defer chromeConn.Close()

	log.Info("debug client attached")

	// Bidirectional proxy
	errChan := make(chan error, 2)

	go func() {
		errChan <- s.proxyMessages(clientConn, chromeConn, "client→chrome")
	}()

	go func() {
		errChan <- s.proxyMessages(chromeConn, clientConn, "chrome→client")
	}()

	// Wait for either direction to close
	err = <-errChan
	if err != nil && err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn("proxy stopped", "error", err)
	}

	log.Info("debug client detached")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "direction", direction, "error", err)
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			s.logger.Debug("websocket write failed", "direction", direction, "error", err)
			return err
		}
	}
}
