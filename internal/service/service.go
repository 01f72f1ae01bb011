package service

import (
	"context"
	"fmt"
	"time"

	"powercal/internal/config"
	"powercal/internal/logger"
	"powercal/internal/metrics"
	"powercal/internal/models"
	"powercal/internal/repository"
	"powercal/internal/topic"
	"powercal/internal/transport"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	SignIn(ctx context.Context, username, password string) (Session, error)
	ParseToken(accessToken string) (models.Identity, error)
	EnsureOperator(ctx context.Context, username, password string) (int, error)
}

// Registry tracks discovered devices and their latest metric values.
type Registry interface {
	Observe(id string) bool
	ApplyResult(id, key, value string) (ResultChange, error)
	Devices() []models.DeviceRow
	Device(id string) (models.DeviceRow, bool)
	ResolveName(name string) (string, bool)
}

// RollingAverage keeps per-series time windows of sensor readings.
type RollingAverage interface {
	Record(series string, at time.Time, value float64) (WindowAverages, error)
}

// Suggestions completes operator input against the command vocabulary.
type Suggestions interface {
	AddCategory(name string)
	AddAction(category, action string)
	AddAdHocTopic(topic string)
	RemoveAdHocTopic(topic string) bool
	Categories() []string
	Actions(category string) []string
	AdHocTopics() []string
	Suggest(text string) (string, bool)
	Navigate(text string, dir Direction) string
}

// Commands executes submitted operator command lines.
type Commands interface {
	Submit(ctx context.Context, text string) (CommandResult, error)
}

// EventLog exposes the operator log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.LogEvent, error)
}

// Router consumes the inbound message stream.
type Router interface {
	Prime(ctx context.Context) error
	Route(ctx context.Context, msg transport.Message) error
	Run(ctx context.Context, in <-chan transport.Message) error
}

// Display fans display events out to connected clients.
type Display interface {
	Subscribe() (<-chan models.DisplayEvent, func())
}

// Publisher is the outbound half of the bus. *transport.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, filter string) error
	Unsubscribe(ctx context.Context, filter string) error
}

// Events receives display updates produced while routing and handling commands.
type Events interface {
	DeviceDiscovered(id string)
	DeviceRenamed(id, name string)
	MetricUpdated(id string, kind models.MetricKind, value string)
	LogLine(typ, text string, meta any)
}

type Service struct {
	Authorization
	Registry
	RollingAverage
	Suggestions
	Commands
	EventLog
	Router
	Display
}

// Deps are the collaborators the services need besides the repositories.
type Deps struct {
	Config    *config.Config
	Publisher Publisher
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	OnExit    func() // called when the operator submits "exit"
}

// NewService wires the repository layer and collaborators into concrete services.
func NewService(repos *repository.Repository, deps Deps) (*Service, error) {
	cfg := deps.Config
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("telemetry timezone: %w", err)
	}
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}

	parser := topic.NewParser(cfg.Devices.Prefix)
	hub := NewEventHub(repos.EventRepo, log.Named("hub"), deps.Metrics)
	registry := NewRegistryService(parser, cfg.Devices.NameKey)
	averages := NewAverageService(cfg.Telemetry.Window, cfg.Telemetry.ShortWindow)
	suggestions := NewSuggestService(cfg.Suggest.Actions, cfg.MQTT.GroupTopic)

	router := NewRouterService(RouterConfig{
		CommandPrefix:  cfg.MQTT.CommandPrefix,
		GroupTopic:     cfg.MQTT.GroupTopic,
		NameCommand:    cfg.Devices.NameCommand,
		Subscriptions:  cfg.MQTT.Subscriptions,
		TelemetryTopic: cfg.Telemetry.Topic,
		Report:         cfg.Telemetry.Report,
		Location:       loc,
	}, parser, registry, averages, suggestions, hub, deps.Publisher, deps.Metrics, log.Named("router"))

	commands := NewCommandService(cfg.MQTT.CommandPrefix, registry, suggestions, hub, deps.Publisher, deps.OnExit)

	return &Service{
		Authorization:  NewAuthService(repos.Operators, cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
		Registry:       registry,
		RollingAverage: averages,
		Suggestions:    suggestions,
		Commands:       commands,
		EventLog:       NewEventLogService(repos.EventRepo),
		Router:         router,
		Display:        hub,
	}, nil
}
