package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MetricKind identifies one of the monitored power readings of a device.
type MetricKind int

const (
	MetricUnknown MetricKind = iota
	MetricVoltage
	MetricCurrent
	MetricPower
	MetricFactor
)

// variablePrefix is the device-side name of the positional result variables (Var1..Var4).
const variablePrefix = "var"

var metricNames = [...]string{
	MetricUnknown: "unknown",
	MetricVoltage: "voltage",
	MetricCurrent: "current",
	MetricPower:   "power",
	MetricFactor:  "factor",
}

// MetricKinds returns the monitored metrics in declaration order.
func MetricKinds() []MetricKind {
	return []MetricKind{MetricVoltage, MetricCurrent, MetricPower, MetricFactor}
}

func (k MetricKind) String() string {
	if k < 0 || int(k) >= len(metricNames) {
		return metricNames[MetricUnknown]
	}
	return metricNames[k]
}

// Variable returns the device variable that carries this metric ("var1" for voltage).
func (k MetricKind) Variable() string {
	if k == MetricUnknown {
		return ""
	}
	return variablePrefix + strconv.Itoa(int(k))
}

// MarshalText lets MetricKind be used as a JSON object key.
func (k MetricKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a metric name produced by MarshalText.
func (k *MetricKind) UnmarshalText(b []byte) error {
	for _, kind := range MetricKinds() {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown metric %q", string(b))
}

// MetricKindForVariable maps a positional result key such as "Var3" to its metric.
// Matching is case-insensitive; anything else yields MetricUnknown.
func MetricKindForVariable(key string) MetricKind {
	if len(key) <= len(variablePrefix) || !strings.EqualFold(key[:len(variablePrefix)], variablePrefix) {
		return MetricUnknown
	}
	n, err := strconv.Atoi(key[len(variablePrefix):])
	if err != nil || n < int(MetricVoltage) || n > int(MetricFactor) {
		return MetricUnknown
	}
	return MetricKind(n)
}

// NameToken is the single-token form of a friendly name used on the command
// line: runs of whitespace become one underscore ("Living Room" -> "Living_Room").
func NameToken(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// DeviceRow is one discovered device and its latest metric values.
type DeviceRow struct {
	ID      string                `json:"id"`
	Name    *string               `json:"name,omitempty"` // nil until the device reports its name
	Metrics map[MetricKind]string `json:"metrics"`
}

// DisplayName returns the friendly name, or "-" when none is known yet.
func (d DeviceRow) DisplayName() string {
	if d.Name == nil {
		return "-"
	}
	return *d.Name
}

// Clone returns a deep copy safe to hand out of a locked registry.
func (d DeviceRow) Clone() DeviceRow {
	out := DeviceRow{ID: d.ID, Metrics: make(map[MetricKind]string, len(d.Metrics))}
	if d.Name != nil {
		name := *d.Name
		out.Name = &name
	}
	for k, v := range d.Metrics {
		out.Metrics[k] = v
	}
	return out
}
