package router

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/voicepay/internal/protocol"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const watchBuffer = 8

// hub fans screen states out to websocket watchers. Slow watchers lose the
// oldest pending state; every state is complete so only the latest matters.
type hub struct {
	mu   sync.Mutex
	subs map[chan protocol.ScreenState]struct{}
}

func (h *hub) subscribe() (<-chan protocol.ScreenState, func()) {
	ch := make(chan protocol.ScreenState, watchBuffer)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan protocol.ScreenState]struct{})
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *hub) broadcast(st protocol.ScreenState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleWatch streams screen states to a presenter over a websocket, starting
// with the current one.
func (s *Service) handleWatch(w http.ResponseWriter, r *http.Request) {
	// The presenter page is served from its own local origin.
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", slogError(err))
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	states, unsubscribe := s.watchers.subscribe()
	defer unsubscribe()
	ctx := c.CloseRead(r.Context())
	s.logger.Debug("presenter connected", slog.Int("watchers", s.watchers.count()))

	if err := writeState(ctx, c, s.state()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			c.Close(websocket.StatusGoingAway, "shutting down")
			return
		case st := <-states:
			if err := writeState(ctx, c, st); err != nil {
				s.logger.Debug("presenter disconnected", slogError(err))
				return
			}
		}
	}
}

func writeState(ctx context.Context, c *websocket.Conn, st protocol.ScreenState) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c, st)
}
