package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"powercal/internal/logger"
	"powercal/internal/metrics"
	"powercal/internal/models"
	"powercal/internal/topic"
	"powercal/internal/transport"

	"github.com/Azure/iot-operations-sdks/go/mqtt"
	"github.com/relvacode/iso8601"
)

var (
	ErrEmptyTopic   = errors.New("message without topic")
	ErrStreamClosed = errors.New("inbound message stream closed")
)

// RouterConfig carries the bus conventions the router depends on.
type RouterConfig struct {
	CommandPrefix  string
	GroupTopic     string
	NameCommand    string
	Subscriptions  []string
	TelemetryTopic string
	Report         []string
	Location       *time.Location // for telemetry timestamps without an offset
}

// RouterService dispatches every inbound message by its topic classification.
type RouterService struct {
	cfg         RouterConfig
	report      map[string]bool
	parser      *topic.Parser
	registry    Registry
	averages    RollingAverage
	suggestions Suggestions
	events      Events
	pub         Publisher
	metrics     *metrics.Metrics
	log         *logger.Logger
}

func NewRouterService(
	cfg RouterConfig,
	parser *topic.Parser,
	registry Registry,
	averages RollingAverage,
	suggestions Suggestions,
	events Events,
	pub Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *RouterService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	report := make(map[string]bool, len(cfg.Report))
	for _, name := range cfg.Report {
		report[name] = true
	}
	return &RouterService{
		cfg:         cfg,
		report:      report,
		parser:      parser,
		registry:    registry,
		averages:    averages,
		suggestions: suggestions,
		events:      events,
		pub:         pub,
		metrics:     m,
		log:         log,
	}
}

// Prime subscribes the startup filters and asks every device on the group
// topic for its current metric values.
func (r *RouterService) Prime(ctx context.Context) error {
	for _, filter := range r.cfg.Subscriptions {
		if err := r.pub.Subscribe(ctx, filter); err != nil {
			return fmt.Errorf("subscribe %q: %w", filter, err)
		}
	}
	if r.cfg.GroupTopic == "" {
		return nil
	}
	for _, kind := range models.MetricKinds() {
		t := r.cfg.CommandPrefix + "/" + r.cfg.GroupTopic + "/" + kind.Variable()
		if err := r.pub.Publish(ctx, t, nil); err != nil {
			return fmt.Errorf("poll %s: %w", kind.Variable(), err)
		}
	}
	return nil
}

// Run routes messages in arrival order until ctx is done or in is closed.
func (r *RouterService) Run(ctx context.Context, in <-chan transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return ErrStreamClosed
			}
			if err := r.Route(ctx, msg); err != nil {
				r.log.Warnw("route_failed", "topic", msg.Topic, "error", err)
			}
		}
	}
}

// Route handles one message completely. Errors are never fatal to the stream.
func (r *RouterService) Route(ctx context.Context, msg transport.Message) error {
	start := time.Now()
	defer func() { r.metrics.ObserveRouting(time.Since(start)) }()

	if msg.Topic == "" {
		r.metrics.PayloadError("empty_topic")
		r.events.LogLine(models.EventError, fmt.Sprintf("%s: %s", ErrEmptyTopic, msg.Payload), nil)
		return ErrEmptyTopic
	}

	cls := r.parser.Classify(msg.Topic)
	r.metrics.MessageReceived(cls.Category.String())
	fields, structured := decodeObject(msg.Payload)

	if cls.HasDevice && r.registry.Observe(cls.DeviceID) {
		if err := r.discover(ctx, cls.DeviceID); err != nil {
			return err
		}
		if cls.Category != topic.Result {
			return nil
		}
	}

	switch {
	case cls.Category == topic.Result && structured:
		r.applyResult(cls, fields)
		return nil
	case r.cfg.TelemetryTopic != "" && mqtt.IsTopicFilterMatch(r.cfg.TelemetryTopic, msg.Topic):
		return r.telemetry(msg)
	}

	if cls.Category == topic.Result {
		r.metrics.PayloadError("not_object")
	}
	r.unhandled(cls, string(msg.Payload))
	return nil
}

func (r *RouterService) discover(ctx context.Context, id string) error {
	r.metrics.DeviceDiscovered()
	r.events.DeviceDiscovered(id)
	r.suggestions.AddCategory(id)
	r.log.Infow("device_discovered", "device", id)

	t := r.cfg.CommandPrefix + "/" + id + "/" + r.cfg.NameCommand
	if err := r.pub.Publish(ctx, t, nil); err != nil {
		return fmt.Errorf("request name of %s: %w", id, err)
	}
	return nil
}

func (r *RouterService) applyResult(cls topic.Classification, fields []field) {
	for _, f := range fields {
		change, err := r.registry.ApplyResult(cls.DeviceID, f.Key, f.Value)
		if err != nil {
			r.unhandled(cls, fmt.Sprintf("%s=%s", f.Key, f.Value))
			continue
		}
		switch change.Outcome {
		case Renamed:
			r.events.DeviceRenamed(cls.DeviceID, change.Value)
			r.suggestions.AddCategory(models.NameToken(change.Value))
		case MetricUpdated:
			r.events.MetricUpdated(cls.DeviceID, change.Metric, change.Value)
		default:
			r.unhandled(cls, fmt.Sprintf("%s=%s", f.Key, f.Value))
		}
	}
}

// reading is the payload published on the telemetry topic.
type reading struct {
	Name  string   `json:"name"`
	Time  string   `json:"t"`
	Value *float64 `json:"f"`
}

func (r *RouterService) telemetry(msg transport.Message) error {
	var rd reading
	if err := json.Unmarshal(msg.Payload, &rd); err != nil || rd.Name == "" || rd.Value == nil {
		r.metrics.PayloadError("bad_reading")
		r.events.LogLine(models.EventUnhandled, fmt.Sprintf("%s %s", msg.Topic, msg.Payload), nil)
		return nil
	}
	at, err := parseTimestamp(rd.Time, r.cfg.Location)
	if err != nil {
		r.metrics.PayloadError("bad_timestamp")
		r.events.LogLine(models.EventUnhandled, fmt.Sprintf("%s %s", msg.Topic, msg.Payload), nil)
		return nil
	}

	avg, err := r.averages.Record(rd.Name, at, *rd.Value)
	if err != nil {
		r.log.Debugw("stale_reading", "series", rd.Name, "at", at, "error", err)
		return nil
	}
	if r.report[rd.Name] {
		r.events.LogLine(models.EventTelemetry,
			fmt.Sprintf("%s %s: %.2f 5m, %.2f 1m", rd.Time, rd.Name, avg.Window, avg.Short), avg)
	}
	return nil
}

func (r *RouterService) unhandled(cls topic.Classification, payload string) {
	r.events.LogLine(models.EventUnhandled,
		fmt.Sprintf("%s %s %s %s", cls.Category, cls.DeviceID, cls.Action, payload),
		map[string]string{"category": cls.Category.String(), "device": cls.DeviceID, "action": cls.Action})
}

// parseTimestamp reads an ISO 8601 timestamp. Timestamps without an offset
// are wall-clock times in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, err
	}
	if hasOffset(s) {
		return t, nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
}

func hasOffset(s string) bool {
	i := strings.IndexAny(s, "Tt")
	if i < 0 {
		return false
	}
	return strings.ContainsAny(s[i+1:], "Zz+-")
}

// field is one top-level member of a JSON object payload.
type field struct {
	Key   string
	Value string
}

// decodeObject decodes payload as a JSON object, keeping member order.
// String values are unquoted; other values keep their JSON text.
func decodeObject(payload []byte) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		value := string(raw)
		var s string
		if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
			value = s
		}
		out = append(out, field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return out, true
}
