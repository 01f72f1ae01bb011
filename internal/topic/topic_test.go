package topic

import "testing"

func TestParser_Classify(t *testing.T) {
	p := NewParser("tasmota")

	cases := []struct {
		topic string
		want  Classification
	}{
		{"temp_json", Classification{Category: Telemetry, Action: "temp_json"}},
		{"tasmota3/POWER", Classification{Category: Discovery, DeviceID: "tasmota3", HasDevice: true, Action: "POWER"}},
		{"tuning/start", Classification{Category: Other, DeviceID: "tuning", HasDevice: true, Action: "start"}},
		{"tele/tasmota1/LWT", Classification{Category: Discovery, DeviceID: "tasmota1", HasDevice: true, Action: "LWT"}},
		{"tele/sonoff/LWT", Classification{Category: Other, DeviceID: "sonoff", HasDevice: true, Action: "LWT"}},
		{"stat/tasmota1/RESULT", Classification{Category: Result, DeviceID: "tasmota1", HasDevice: true, Action: "RESULT"}},
		{"stat/sonoff/RESULT", Classification{Category: Result, DeviceID: "sonoff", HasDevice: true, Action: "RESULT"}},
		{"stat/tasmota1/POWER", Classification{Category: Discovery, DeviceID: "tasmota1", HasDevice: true, Action: "POWER"}},
		{"tui/a/b/c", Classification{Category: Other, Action: "tui/a/b/c"}},
		{"/", Classification{Category: Other, DeviceID: "", HasDevice: true, Action: ""}},
		{"", Classification{Category: Other}},
	}

	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			got := p.Classify(tc.topic)
			if got != tc.want {
				t.Fatalf("Classify(%q) = %+v, want %+v", tc.topic, got, tc.want)
			}
		})
	}
}

func TestParser_ResultFilterMatchesOnlyThreeLevels(t *testing.T) {
	p := NewParser("tasmota")
	cases := map[string]Category{
		"stat/tasmota1/RESULT":  Result,
		"stat/RESULT":           Other,
		"stat/a/b/RESULT":       Other,
		"stat/tasmota1/RESULTS": Discovery,
		"STAT/tasmota1/RESULT":  Discovery,
	}
	for topic, want := range cases {
		if got := p.Classify(topic).Category; got != want {
			t.Errorf("Classify(%q).Category = %v, want %v", topic, got, want)
		}
	}
}

func TestParser_ClassifyIsDeterministic(t *testing.T) {
	p := NewParser("tasmota")
	for _, topic := range []string{"tele/tasmota1/LWT", "temp_json", "a/b", "a/b/c/d"} {
		first := p.Classify(topic)
		for i := 0; i < 5; i++ {
			if again := p.Classify(topic); again != first {
				t.Fatalf("Classify(%q) changed: %+v then %+v", topic, first, again)
			}
		}
	}
	if got := p.Classify("tele/tasmota1/LWT"); got.DeviceID != "tasmota1" || got.Action != "LWT" {
		t.Fatalf("unexpected classification: %+v", got)
	}
}

func TestParser_EmptyPrefixDisablesDiscovery(t *testing.T) {
	p := NewParser("")
	if got := p.Classify("tele/tasmota1/LWT"); got.Category != Other {
		t.Fatalf("want Other without prefix, got %v", got.Category)
	}
	if p.IsDeviceID("anything") {
		t.Fatalf("no id is a device id without a prefix")
	}
}

func TestCategory_String(t *testing.T) {
	want := map[Category]string{Other: "other", Result: "result", Discovery: "discovery", Telemetry: "telemetry"}
	for c, s := range want {
		if c.String() != s {
			t.Errorf("%d.String() = %q, want %q", c, c.String(), s)
		}
	}
}
