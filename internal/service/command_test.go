package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"powercal/internal/models"
	"powercal/internal/topic"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr error
	}{
		{in: "exit", want: Command{Kind: CommandExit}},
		{in: "sub tele/#", want: Command{Kind: CommandSubscribe, Topic: "tele/#"}},
		{in: "unsub tele/#", want: Command{Kind: CommandUnsubscribe, Topic: "tele/#"}},
		{in: "show sub", want: Command{Kind: CommandShowSubscriptions}},
		{in: "tasmota1 power on", want: Command{Kind: CommandPublish, Target: "tasmota1", Action: "power", Payload: "on"}},
		{in: "cmnd Desk var1 230.5", want: Command{Kind: CommandPublish, Target: "Desk", Action: "var1", Payload: "230.5"}},
		{in: "tasmotas status", want: Command{Kind: CommandPublish, Target: "tasmotas", Action: "status"}},
		{in: "  tasmota1   rule1   on  x  ", want: Command{Kind: CommandPublish, Target: "tasmota1", Action: "rule1", Payload: "on x"}},
		{in: "", wantErr: ErrUnknownCommand},
		{in: "tasmota1", wantErr: ErrUnknownCommand},
		{in: "exit now", wantErr: ErrUnknownCommand},
		{in: "show devices", wantErr: ErrUnknownCommand},
		{in: "sub", wantErr: ErrMissingArgument},
		{in: "unsub", wantErr: ErrMissingArgument},
		{in: "cmnd tasmota1", wantErr: ErrMissingArgument},
	}
	for _, tc := range tests {
		got, err := ParseCommand(tc.in, "cmnd")
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ParseCommand(%q) err = %v, want %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

type commandFixture struct {
	svc      *CommandService
	registry *RegistryService
	suggest  *SuggestService
	events   *recordingEvents
	pub      *fakePublisher
	exits    int
}

func newCommandFixture() *commandFixture {
	f := &commandFixture{
		registry: NewRegistryService(topic.NewParser("tasmota"), "DeviceName"),
		suggest:  NewSuggestService(testBaseActions, "tasmotas"),
		events:   &recordingEvents{},
		pub:      &fakePublisher{},
	}
	f.svc = NewCommandService("cmnd", f.registry, f.suggest, f.events, f.pub, func() { f.exits++ })
	return f
}

func TestCommandService_PublishResolvesNames(t *testing.T) {
	f := newCommandFixture()
	f.registry.Observe("tasmota4")
	_, _ = f.registry.ApplyResult("tasmota4", "DeviceName", "Desk")
	f.suggest.AddCategory("Desk")

	res, err := f.svc.Submit(context.Background(), "Desk Var1 230")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Topic != "cmnd/tasmota4/Var1" || res.Payload != "230" {
		t.Fatalf("result %+v", res)
	}
	if !reflect.DeepEqual(f.pub.published, []string{"cmnd/tasmota4/Var1 230"}) {
		t.Fatalf("published %v", f.pub.published)
	}
	_, lines := f.events.snapshot()
	if len(lines) == 0 || lines[0] != "COMMAND Desk Var1 230" {
		t.Fatalf("command must be echoed, lines %v", lines)
	}
}

func TestCommandService_PublishTeachesAction(t *testing.T) {
	f := newCommandFixture()

	if _, err := f.svc.Submit(context.Background(), "cmnd tasmotas SetOption4 1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	actions := f.suggest.Actions("tasmotas")
	if actions[len(actions)-1] != "setoption4" {
		t.Fatalf("actions %v", actions)
	}
	if got, _ := f.suggest.Suggest("tasmotas se"); got != "tasmotas setoption4" {
		t.Fatalf("learned action not suggested, got %q", got)
	}
}

func TestCommandService_PublishFailureDoesNotTeach(t *testing.T) {
	f := newCommandFixture()
	f.pub.err = errors.New("offline")

	if _, err := f.svc.Submit(context.Background(), "tasmotas frobnicate"); err == nil {
		t.Fatalf("expected error")
	}
	for _, a := range f.suggest.Actions("tasmotas") {
		if a == "frobnicate" {
			t.Fatalf("failed publish must not grow the vocabulary")
		}
	}
}

func TestCommandService_SubscribeRoundTrip(t *testing.T) {
	f := newCommandFixture()
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "sub tele/+/SENSOR"); err != nil {
		t.Fatalf("sub: %v", err)
	}
	res, err := f.svc.Submit(ctx, "show sub")
	if err != nil || !reflect.DeepEqual(res.Subscriptions, []string{"tele/+/SENSOR"}) {
		t.Fatalf("show sub = %+v, %v", res, err)
	}
	if _, err := f.svc.Submit(ctx, "unsub tele/+/SENSOR"); err != nil {
		t.Fatalf("unsub: %v", err)
	}
	if len(f.suggest.AdHocTopics()) != 0 {
		t.Fatalf("topic still listed: %v", f.suggest.AdHocTopics())
	}
	if !reflect.DeepEqual(f.pub.subscribed, []string{"tele/+/SENSOR"}) || !reflect.DeepEqual(f.pub.unsubscribed, []string{"tele/+/SENSOR"}) {
		t.Fatalf("bus calls sub=%v unsub=%v", f.pub.subscribed, f.pub.unsubscribed)
	}
}

func TestCommandService_UnsubscribeUnknown(t *testing.T) {
	f := newCommandFixture()

	_, err := f.svc.Submit(context.Background(), "unsub nothing/#")
	if !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	if len(f.pub.unsubscribed) != 0 {
		t.Fatalf("no unsubscribe must reach the bus")
	}
}

func TestCommandService_UnsubscribeFailureKeepsOrder(t *testing.T) {
	f := newCommandFixture()
	for _, topic := range []string{"a/#", "b/#", "c/#"} {
		f.suggest.AddAdHocTopic(topic)
	}
	f.pub.err = errors.New("offline")

	if _, err := f.svc.Submit(context.Background(), "unsub b/#"); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.suggest.AdHocTopics(); !reflect.DeepEqual(got, []string{"a/#", "b/#", "c/#"}) {
		t.Fatalf("a failed unsubscribe must leave the list untouched, got %v", got)
	}

	f.pub.err = nil
	if _, err := f.svc.Submit(context.Background(), "unsub b/#"); err != nil {
		t.Fatalf("unsub: %v", err)
	}
	if got := f.suggest.AdHocTopics(); !reflect.DeepEqual(got, []string{"a/#", "c/#"}) {
		t.Fatalf("after unsub %v", got)
	}
}

func TestCommandService_MultiWordDeviceName(t *testing.T) {
	f := newCommandFixture()
	f.registry.Observe("tasmota1")
	_, _ = f.registry.ApplyResult("tasmota1", "DeviceName", "Living Room")
	f.suggest.AddCategory(models.NameToken("Living Room"))
	before := f.suggest.Categories()

	for _, line := range []string{"Living Room power on", "cmnd Living Room var1 230", "Living_Room status"} {
		if _, err := f.svc.Submit(context.Background(), line); err != nil {
			t.Fatalf("Submit(%q): %v", line, err)
		}
	}

	want := []string{"cmnd/tasmota1/power on", "cmnd/tasmota1/var1 230", "cmnd/tasmota1/status"}
	if !reflect.DeepEqual(f.pub.published, want) {
		t.Fatalf("published %v, want %v", f.pub.published, want)
	}
	if got := f.suggest.Categories(); !reflect.DeepEqual(got, before) {
		t.Fatalf("no stray category may be learned, got %v", got)
	}
}

func TestJoinDeviceName(t *testing.T) {
	name := func(s string) *string { return &s }
	rows := []models.DeviceRow{
		{ID: "tasmota1", Name: name("Living Room")},
		{ID: "tasmota2", Name: name("Living Room Lamp")},
		{ID: "tasmota3", Name: name("Desk")},
		{ID: "tasmota4"},
	}
	cases := []struct{ in, want string }{
		{"Living Room power on", "Living_Room power on"},
		{"Living Room Lamp power", "Living_Room_Lamp power"},
		{"cmnd Living Room var1 1", "cmnd Living_Room var1 1"},
		{"Desk power", "Desk power"},
		{"Living power", "Living power"},
		{"sub tele/#", "sub tele/#"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := joinDeviceName(tc.in, "cmnd", rows); got != tc.want {
			t.Errorf("joinDeviceName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCommandService_RecordsOperator(t *testing.T) {
	f := newCommandFixture()
	ctx := WithOperator(context.Background(), models.Identity{ID: 7, Username: "alice"})

	if _, err := f.svc.Submit(ctx, "sub tele/#"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), "show sub"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	want := map[string]any{"operator": "alice", "operator_id": 7}
	for i := 0; i < 2; i++ {
		if !reflect.DeepEqual(f.events.metas[i], want) {
			t.Fatalf("line %q meta = %#v, want %#v", f.events.lines[i], f.events.metas[i], want)
		}
	}
	for i := 2; i < len(f.events.metas); i++ {
		if f.events.metas[i] != nil {
			t.Fatalf("anonymous submission %q carries meta %#v", f.events.lines[i], f.events.metas[i])
		}
	}
}

func TestCommandService_Exit(t *testing.T) {
	f := newCommandFixture()

	if _, err := f.svc.Submit(context.Background(), "exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if f.exits != 1 {
		t.Fatalf("exit hook called %d times", f.exits)
	}

	noHook := NewCommandService("cmnd", f.registry, f.suggest, f.events, f.pub, nil)
	if _, err := noHook.Submit(context.Background(), "exit"); !errors.Is(err, ErrExitRequested) {
		t.Fatalf("expected ErrExitRequested, got %v", err)
	}
}

func TestCommandService_Unknown(t *testing.T) {
	f := newCommandFixture()

	if _, err := f.svc.Submit(context.Background(), "hello"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	_, lines := f.events.snapshot()
	if len(lines) != 1 {
		t.Fatalf("unknown commands are still echoed, lines %v", lines)
	}
}
