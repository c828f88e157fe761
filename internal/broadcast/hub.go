package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

type Observer struct {
	ID     string
	scanID string
	mu     sync.Mutex
	closed bool
	events chan []byte
}

// Events yields serialized progress events. The channel is closed once the
// observer is unregistered.
func (o *Observer) Events() <-chan []byte { return o.events }

func (o *Observer) wants(scanID string) bool {
	return o.scanID == "" || o.scanID == scanID
}

// offer reports false when the observer is closed or its buffer is full.
func (o *Observer) offer(data []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.events <- data:
		return true
	default:
		return false
	}
}

func (o *Observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// Hub fans progress events out to the observers registered at publish time.
// Nothing is replayed to late observers.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	buffer    int
	logger    *logrus.Logger
	metrics   *utils.MetricsCollector
}

func NewHub(buffer int, logger *logrus.Logger, metrics *utils.MetricsCollector) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		observers: make(map[string]*Observer),
		buffer:    buffer,
		logger:    logger,
		metrics:   metrics,
	}
}

func (h *Hub) Register() *Observer {
	return h.RegisterScan("")
}

// RegisterScan registers an observer that only receives events for scanID.
// An empty scanID receives everything.
func (h *Hub) RegisterScan(scanID string) *Observer {
	o := &Observer{
		ID:     uuid.NewString(),
		scanID: scanID,
		events: make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	h.observers[o.ID] = o
	n := len(h.observers)
	h.mu.Unlock()

	h.metrics.SetGauge(utils.MetricObservers, float64(n), nil)
	h.logger.WithFields(logrus.Fields{"observer_id": o.ID, "scan_id": scanID}).Debug("observer registered")
	return o
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	o, ok := h.observers[id]
	delete(h.observers, id)
	n := len(h.observers)
	h.mu.Unlock()

	if !ok {
		return
	}
	o.close()
	h.metrics.SetGauge(utils.MetricObservers, float64(n), nil)
	h.logger.WithField("observer_id", id).Debug("observer unregistered")
}

// Publish never blocks and never fails. An observer that cannot take the
// event is dropped.
func (h *Hub) Publish(scanID string, event models.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"scan_id": scanID, "error": err}).Error("encode progress event")
		return
	}

	h.mu.RLock()
	snapshot := make([]*Observer, 0, len(h.observers))
	for _, o := range h.observers {
		snapshot = append(snapshot, o)
	}
	h.mu.RUnlock()

	for _, o := range snapshot {
		if !o.wants(scanID) {
			continue
		}
		if !o.offer(data) {
			h.logger.WithFields(logrus.Fields{"observer_id": o.ID, "scan_id": scanID}).Debug("dropping unresponsive observer")
			h.Unregister(o.ID)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close unregisters every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[string]*Observer)
	h.mu.Unlock()

	for _, o := range observers {
		o.close()
	}
	h.metrics.SetGauge(utils.MetricObservers, 0, nil)
}
