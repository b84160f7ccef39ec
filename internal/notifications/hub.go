package notifications

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/logger"
)

// TopicStoreAlert carries stores.Alert values.
const TopicStoreAlert = "stores:alert"

const defaultHistory = 50

// Hub fans store alerts out to admin subscribers. Publishing never blocks the health probe:
// subscribers run asynchronously on the event bus.
type Hub struct {
	bus evbus.Bus

	mu      sync.RWMutex
	recent  []stores.Alert
	history int

	log *zap.Logger
}

var _ stores.AlertSink = (*Hub)(nil)

// NewHub constructs a hub that logs every alert and keeps the most recent ones for the admin API.
func NewHub() *Hub {
	h := &Hub{
		bus:     evbus.New(),
		history: defaultHistory,
		log:     logger.WithModule("notifications"),
	}
	_ = h.bus.SubscribeAsync(TopicStoreAlert, h.record, false)
	return h
}

// Publish implements stores.AlertSink.
func (h *Hub) Publish(alert stores.Alert) {
	h.bus.Publish(TopicStoreAlert, alert)
}

// Subscribe registers an asynchronous alert handler.
func (h *Hub) Subscribe(fn func(stores.Alert)) error {
	return h.bus.SubscribeAsync(TopicStoreAlert, fn, false)
}

// Wait blocks until every asynchronous handler has returned.
func (h *Hub) Wait() {
	h.bus.WaitAsync()
}

// Recent returns the retained alerts, newest last.
func (h *Hub) Recent() []stores.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]stores.Alert(nil), h.recent...)
}

func (h *Hub) record(alert stores.Alert) {
	h.log.Error("store unavailable",
		zap.String("store", string(alert.Store)),
		zap.Int("consecutive_failures", alert.Failures),
		zap.String("error", alert.Error),
		zap.Time("at", alert.At),
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, alert)
	if overflow := len(h.recent) - h.history; overflow > 0 {
		h.recent = append([]stores.Alert(nil), h.recent[overflow:]...)
	}
}
