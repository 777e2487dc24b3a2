package api

import (
	"sync"

	"stepdrive/standalone"
)

// StatusReport is the JSON form of a status report
type StatusReport struct {
	Position  int64   `json:"position"`
	Target    int64   `json:"target"`
	Speed     float64 `json:"speed"`
	Phase     string  `json:"phase"`
	Enabled   bool    `json:"enabled"`
	Moving    bool    `json:"moving"`
	Clockwise bool    `json:"clockwise"`
	Homing    bool    `json:"homing"`
}

func NewStatusReport(s standalone.AxisStatus) StatusReport {
	return StatusReport{
		Position:  s.Position,
		Target:    s.Target,
		Speed:     s.Speed,
		Phase:     s.Phase.String(),
		Enabled:   s.Enabled,
		Moving:    s.Moving,
		Clockwise: s.Clockwise,
		Homing:    s.Homing,
	}
}

// subscriberBuffer reports queue per subscriber; a slow reader loses the
// oldest reports it has not taken yet
const subscriberBuffer = 8

// Hub fans status reports out to websocket subscribers
type Hub struct {
	mu   sync.Mutex
	subs map[chan StatusReport]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan StatusReport]struct{})}
}

// Publish never blocks the control loop
func (h *Hub) Publish(s standalone.AxisStatus) {
	report := NewStatusReport(s)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- report:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- report:
			default:
			}
		}
	}
}

func (h *Hub) subscribe() chan StatusReport {
	ch := make(chan StatusReport, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan StatusReport) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of open streams
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
