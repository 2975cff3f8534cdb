package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/engine"
)

type streamMessage struct {
	Type      string          `json:"type"` // item | done | error
	Index     int             `json:"index"`
	Item      *bulkItem       `json:"item,omitempty"`
	Total     int             `json:"total,omitempty"`
	Completed int             `json:"completed,omitempty"`
	ElapsedMS int64           `json:"processingTime,omitempty"`
	Summary   *engine.Summary `json:"summary,omitempty"`
	Canceled  bool            `json:"canceled,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// handleBulkStream runs one bulk request over a websocket. The client sends
// the request as its first message and then receives one item message per
// finished host, in completion order, followed by a done message. Closing the
// socket cancels the batch.
func (s *Server) handleBulkStream(origins []string) http.HandlerFunc {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already answered with an HTTP error
			s.Logger.Warn("ws_upgrade_failed", zap.Error(err))
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var req bulkRequest
		if err := conn.ReadJSON(&req); err != nil {
			closeWith(conn, streamMessage{Type: "error", Error: "invalid JSON: " + err.Error()})
			return
		}
		_ = conn.SetReadDeadline(time.Time{})
		if err := checkStruct(&req); err != nil {
			closeWith(conn, streamMessage{Type: "error", Error: err.Error()})
			return
		}
		if len(req.Hosts) > s.MaxTargets {
			closeWith(conn, streamMessage{Type: "error", Error: "too many hosts"})
			return
		}
		specs, err := req.specs()
		if err != nil {
			closeWith(conn, streamMessage{Type: "error", Error: err.Error()})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		var writeErr error
		out := s.Engine.RunBatch(ctx, engine.Request{
			Targets:     req.Hosts,
			Probes:      specs,
			Concurrency: req.Concurrency,
			OnItem: func(i int, it engine.Item) {
				if writeErr != nil {
					return
				}
				bi := bulkItemFrom(it, req.Checks)
				if writeErr = conn.WriteJSON(streamMessage{Type: "item", Index: i, Item: &bi}); writeErr != nil {
					cancel()
				}
			},
		})
		if writeErr != nil {
			s.Logger.Info("ws_client_gone", zap.String("batch_id", out.ID.String()), zap.Error(writeErr))
			return
		}

		sum := engine.Summarize(out.Items)
		closeWith(conn, streamMessage{
			Type:      "done",
			Total:     out.Total,
			Completed: out.Completed,
			ElapsedMS: out.ElapsedMS,
			Summary:   &sum,
			Canceled:  out.Canceled,
		})
	}
}

func closeWith(conn *websocket.Conn, msg streamMessage) {
	_ = conn.WriteJSON(msg)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Type),
		time.Now().Add(time.Second))
}

// originChecker accepts any origin when none are configured, otherwise only
// the listed ones. Requests without an Origin header are not browsers.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) || strings.EqualFold(o, u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}
