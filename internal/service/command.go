package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"powercal/internal/models"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrNotSubscribed   = errors.New("topic is not subscribed")
	ErrExitRequested   = errors.New("exit requested by operator")
)

// Command is a parsed operator command line.
type Command struct {
	Kind    CommandKind
	Target  string // device id, device name or topic
	Action  string
	Payload string
	Topic   string // filter for sub/unsub
}

// ParseCommand parses one command line. The literals exit, sub, unsub and
// "show sub" are recognised first; anything else is
// "[<commandPrefix>] <target> <action> [payload...]".
func ParseCommand(text, commandPrefix string) (Command, error) {
	f := strings.Fields(text)
	if len(f) == 0 {
		return Command{}, ErrUnknownCommand
	}

	switch f[0] {
	case CategoryExit:
		if len(f) == 1 {
			return Command{Kind: CommandExit}, nil
		}
		return Command{}, fmt.Errorf("%q: %w", text, ErrUnknownCommand)
	case CategorySubscribe, CategoryUnsubscribe:
		if len(f) < 2 {
			return Command{}, fmt.Errorf("%s: %w", f[0], ErrMissingArgument)
		}
		kind := CommandSubscribe
		if f[0] == CategoryUnsubscribe {
			kind = CommandUnsubscribe
		}
		return Command{Kind: kind, Topic: f[1]}, nil
	case CategoryShow:
		if len(f) == 2 && f[1] == "sub" {
			return Command{Kind: CommandShowSubscriptions}, nil
		}
		return Command{}, fmt.Errorf("%q: %w", text, ErrUnknownCommand)
	}

	if commandPrefix != "" && f[0] == commandPrefix {
		f = f[1:]
		if len(f) < 2 {
			return Command{}, fmt.Errorf("%s: %w", commandPrefix, ErrMissingArgument)
		}
	}
	if len(f) < 2 {
		return Command{}, fmt.Errorf("%q: %w", text, ErrUnknownCommand)
	}
	return Command{
		Kind:    CommandPublish,
		Target:  f[0],
		Action:  f[1],
		Payload: strings.Join(f[2:], " "),
	}, nil
}

// CommandService executes operator command lines against the bus.
type CommandService struct {
	prefix      string
	registry    Registry
	suggestions Suggestions
	events      Events
	pub         Publisher
	onExit      func()
}

func NewCommandService(prefix string, registry Registry, suggestions Suggestions, events Events, pub Publisher, onExit func()) *CommandService {
	if prefix == "" {
		prefix = "cmnd"
	}
	return &CommandService{
		prefix:      prefix,
		registry:    registry,
		suggestions: suggestions,
		events:      events,
		pub:         pub,
		onExit:      onExit,
	}
}

// Submit parses and executes text. Every submission is echoed to the log,
// tagged with the operator attached to ctx.
func (s *CommandService) Submit(ctx context.Context, text string) (CommandResult, error) {
	text = strings.TrimSpace(text)
	meta := commandMeta(ctx)
	s.events.LogLine(models.EventCommand, text, meta)

	cmd, err := ParseCommand(joinDeviceName(text, s.prefix, s.registry.Devices()), s.prefix)
	if err != nil {
		return CommandResult{}, err
	}
	res := CommandResult{Kind: cmd.Kind.String()}

	switch cmd.Kind {
	case CommandExit:
		if s.onExit == nil {
			return res, ErrExitRequested
		}
		s.onExit()
		return res, nil

	case CommandSubscribe:
		if err := s.pub.Subscribe(ctx, cmd.Topic); err != nil {
			return res, fmt.Errorf("subscribe %q: %w", cmd.Topic, err)
		}
		s.suggestions.AddAdHocTopic(cmd.Topic)
		res.Topic = cmd.Topic
		s.events.LogLine(models.EventCommand, "subscribed "+cmd.Topic, meta)
		return res, nil

	case CommandUnsubscribe:
		if !slices.Contains(s.suggestions.AdHocTopics(), cmd.Topic) {
			return res, fmt.Errorf("unsub %q: %w", cmd.Topic, ErrNotSubscribed)
		}
		// the list only changes once the broker confirmed
		if err := s.pub.Unsubscribe(ctx, cmd.Topic); err != nil {
			return res, fmt.Errorf("unsubscribe %q: %w", cmd.Topic, err)
		}
		s.suggestions.RemoveAdHocTopic(cmd.Topic)
		res.Topic = cmd.Topic
		s.events.LogLine(models.EventCommand, "unsubscribed "+cmd.Topic, meta)
		return res, nil

	case CommandShowSubscriptions:
		res.Subscriptions = s.suggestions.AdHocTopics()
		s.events.LogLine(models.EventCommand, "subscriptions: "+strings.Join(res.Subscriptions, ", "), meta)
		return res, nil
	}

	target := cmd.Target
	if id, ok := s.registry.ResolveName(target); ok {
		target = id
	}
	res.Topic = s.prefix + "/" + target + "/" + cmd.Action
	res.Payload = cmd.Payload
	if err := s.pub.Publish(ctx, res.Topic, []byte(cmd.Payload)); err != nil {
		return res, err
	}
	s.suggestions.AddAction(cmd.Target, cmd.Action)
	return res, nil
}

// commandMeta is the log metadata identifying who submitted a command. It is
// an untyped nil without an operator so the log entry carries no metadata.
func commandMeta(ctx context.Context) any {
	id, ok := OperatorFrom(ctx)
	if !ok {
		return nil
	}
	return map[string]any{"operator": id.Username, "operator_id": id.ID}
}

// joinDeviceName rewrites a leading multi-word device name into its
// NameToken so the rest of the line parses as action and payload. The
// longest matching name wins.
func joinDeviceName(text, prefix string, rows []models.DeviceRow) string {
	fields := strings.Fields(text)
	start := 0
	if prefix != "" && len(fields) > 0 && fields[0] == prefix {
		start = 1
	}
	rest := fields[start:]

	var (
		token string
		best  int
	)
	for _, row := range rows {
		if row.Name == nil {
			continue
		}
		words := strings.Fields(*row.Name)
		if len(words) < 2 || len(words) <= best || len(words) > len(rest) {
			continue
		}
		if slices.Equal(words, rest[:len(words)]) {
			token, best = models.NameToken(*row.Name), len(words)
		}
	}
	if best == 0 {
		return text
	}
	out := append(append([]string(nil), fields[:start]...), token)
	return strings.Join(append(out, rest[best:]...), " ")
}
