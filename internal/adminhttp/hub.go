package adminhttp

import (
	"sync"

	"github.com/emerick42/kairoi/internal/engine"
)

// hub fans a single producer feed of engine events out to many SSE
// subscribers, each with its own bounded channel — an event that does not
// fit a slow client's channel is discarded for that client rather than
// allowed to apply backpressure upstream; the client stays subscribed
// until its handler unsubscribes. Generalized from the teacher pack's
// subscription-hub idiom.
type hub struct {
	mu          sync.Mutex
	subscribers map[chan engine.EventMsg]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[chan engine.EventMsg]struct{})}
}

// run drains src and broadcasts every event until src is closed.
func (h *hub) run(src <-chan engine.EventMsg) {
	for ev := range src {
		h.broadcast(ev)
	}
}

func (h *hub) broadcast(ev engine.EventMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (h *hub) subscribe() chan engine.EventMsg {
	ch := make(chan engine.EventMsg, 32)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan engine.EventMsg) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}
