package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"powercal/internal/logger"
	"powercal/internal/metrics"
	"powercal/internal/models"
	"powercal/internal/repository"
)

// Display event types streamed to clients.
const (
	DisplayDeviceDiscovered = "device_discovered"
	DisplayDeviceRenamed    = "device_renamed"
	DisplayMetricUpdated    = "metric_updated"
	DisplayLogLine          = "log_line"
)

const (
	subscriberBuffer = 64
	appendTimeout    = 2 * time.Second
)

// DeviceEvent is the payload of device display events.
type DeviceEvent struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Metric string `json:"metric,omitempty"`
	Value  string `json:"value,omitempty"`
}

// LogLineEvent is the payload of log_line display events.
type LogLineEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EventHub records display events in the operator log and broadcasts them to
// subscribers. A subscriber whose buffer is full is dropped.
type EventHub struct {
	repo    repository.EventRepo
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	next int
	subs map[int]chan models.DisplayEvent
}

func NewEventHub(repo repository.EventRepo, log *logger.Logger, m *metrics.Metrics) *EventHub {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventHub{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     time.Now,
		subs:    make(map[int]chan models.DisplayEvent),
	}
}

// Subscribe returns a channel of display events and a func that releases it.
// The channel is closed on release or when the subscriber falls behind.
func (h *EventHub) Subscribe() (<-chan models.DisplayEvent, func()) {
	ch := make(chan models.DisplayEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()
	h.metrics.DisplayClientAdded()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropLocked(id)
	}
}

func (h *EventHub) DeviceDiscovered(id string) {
	h.record(models.EventDiscovered, "discovered "+id, DisplayDeviceDiscovered, DeviceEvent{ID: id})
}

func (h *EventHub) DeviceRenamed(id, name string) {
	h.record(models.EventRenamed, fmt.Sprintf("%s is %s", id, name), DisplayDeviceRenamed, DeviceEvent{ID: id, Name: name})
}

func (h *EventHub) MetricUpdated(id string, kind models.MetricKind, value string) {
	h.record(models.EventMetric, fmt.Sprintf("%s %s=%s", id, kind, value), DisplayMetricUpdated,
		DeviceEvent{ID: id, Metric: kind.String(), Value: value})
}

func (h *EventHub) LogLine(typ, text string, meta any) {
	at := h.now().UTC()
	h.append(models.LogEvent{OccurredAt: at, Type: typ, Description: text, Metadata: meta})
	h.broadcast(models.DisplayEvent{Type: DisplayLogLine, At: at, Data: LogLineEvent{Type: typ, Text: text}})
}

func (h *EventHub) record(logType, text, displayType string, data DeviceEvent) {
	at := h.now().UTC()
	h.append(models.LogEvent{OccurredAt: at, Type: logType, Description: text, Metadata: data})
	h.broadcast(models.DisplayEvent{Type: displayType, At: at, Data: data})
}

func (h *EventHub) append(e models.LogEvent) {
	if h.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := h.repo.Append(ctx, e); err != nil {
		h.log.Errorw("event_log_append_failed", "type", e.Type, "error", err)
	}
}

func (h *EventHub) broadcast(ev models.DisplayEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warnw("display_client_dropped", "subscriber", id)
			h.dropLocked(id)
		}
	}
}

func (h *EventHub) dropLocked(id int) {
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
	h.metrics.DisplayClientRemoved()
}
