package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4 << 10
)

func startWSPing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}

// eventFilter narrows the stream by ?window= and ?type= (comma separated).
type eventFilter struct {
	window protocol.BrowsingContextID
	types  map[embedder.EventType]bool
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	var f eventFilter
	q := r.URL.Query()
	if raw := q.Get("window"); raw != "" {
		id, err := parseContextID(raw)
		if err != nil {
			return f, err
		}
		f.window = id
	}
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			if f.types == nil {
				f.types = make(map[embedder.EventType]bool)
			}
			f.types[embedder.EventType(t)] = true
		}
	}
	return f, nil
}

func (f eventFilter) match(ev embedder.Event) bool {
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	// Events that only name a context cannot be attributed to a window here,
	// so a window filter keeps them.
	if f.window.Valid() && ev.TopLevel.Valid() && ev.TopLevel != f.window {
		return false
	}
	return true
}

// handleEvents streams embedder events as JSON text messages until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("event stream accept failed", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)
	metricStreams.Inc()
	defer metricStreams.Dec()

	events, unsubscribe := s.opts.Events.Subscribe()
	defer unsubscribe()

	// CloseRead discards client messages and cancels ctx when the peer
	// closes.
	ctx := conn.CloseRead(r.Context())
	startWSPing(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine stopped")
				return
			}
			if !filter.match(ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("encode event failed", "type", ev.Type, "err", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("event stream write failed", "err", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
