package service

import (
	"time"

	"powercal/internal/models"
)

// Session is a signed console token and the operator it belongs to.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Operator  models.Identity `json:"operator"`
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
	Type  string    // "", "DISCOVERED", "RENAMED", "METRIC", "TELEMETRY", "UNHANDLED", "COMMAND", "ERROR"
	Limit int       // most recent N entries; 0 means all
}

// WindowAverages is the outcome of recording one sample.
type WindowAverages struct {
	Series        string    `json:"series"`
	At            time.Time `json:"at"`
	Window        float64   `json:"window"`         // mean over the retention window
	Short         float64   `json:"short"`          // mean over the short window
	Samples       int       `json:"samples"`        // samples in the retention window
	ShortSamples  int       `json:"short_samples"`  // samples in the short window
	ShortFallback bool      `json:"short_fallback"` // Short copied from Window, short window was empty
}

// ResultOutcome says what a single result pair changed.
type ResultOutcome int

const (
	Unrecognized ResultOutcome = iota
	Renamed
	MetricUpdated
)

func (o ResultOutcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case MetricUpdated:
		return "metric_updated"
	default:
		return "unrecognized"
	}
}

// ResultChange describes the effect of ApplyResult.
type ResultChange struct {
	Outcome ResultOutcome
	Metric  models.MetricKind // set for MetricUpdated
	Value   string
}

// CommandKind is the parsed shape of an operator command line.
type CommandKind int

const (
	CommandPublish CommandKind = iota
	CommandSubscribe
	CommandUnsubscribe
	CommandShowSubscriptions
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandSubscribe:
		return "sub"
	case CommandUnsubscribe:
		return "unsub"
	case CommandShowSubscriptions:
		return "show"
	case CommandExit:
		return "exit"
	default:
		return "publish"
	}
}

// CommandResult is reported back to the operator after a submission.
type CommandResult struct {
	Kind          string   `json:"kind"`
	Topic         string   `json:"topic,omitempty"`
	Payload       string   `json:"payload,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}
