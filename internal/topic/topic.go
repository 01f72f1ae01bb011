// Package topic classifies MQTT topics by their shape.
package topic

import (
	"strings"

	"github.com/Azure/iot-operations-sdks/go/mqtt"
)

// Separator splits topic levels.
const Separator = "/"

// ResultFilter matches device result reports.
const ResultFilter = "stat/+/RESULT"

// Category is the routing class of a topic.
type Category int

const (
	Other Category = iota
	Result
	Discovery
	Telemetry
)

func (c Category) String() string {
	switch c {
	case Result:
		return "result"
	case Discovery:
		return "discovery"
	case Telemetry:
		return "telemetry"
	default:
		return "other"
	}
}

// Classification is the immutable outcome of classifying a topic.
type Classification struct {
	Category  Category
	DeviceID  string
	HasDevice bool
	Action    string
}

// Parser classifies topics. The device prefix decides which identifiers
// belong to devices; an empty prefix disables the Discovery category.
type Parser struct {
	devicePrefix string
}

func NewParser(devicePrefix string) *Parser {
	return &Parser{devicePrefix: devicePrefix}
}

// IsDeviceID reports whether id follows the device naming convention.
func (p *Parser) IsDeviceID(id string) bool {
	return p.devicePrefix != "" && strings.HasPrefix(id, p.devicePrefix)
}

// Classify never fails: topics it cannot interpret are Other.
func (p *Parser) Classify(topic string) Classification {
	if topic == "" {
		return Classification{Category: Other}
	}
	levels := strings.Split(topic, Separator)

	var c Classification
	switch len(levels) {
	case 1:
		return Classification{Category: Telemetry, Action: topic}
	case 2:
		c = Classification{DeviceID: levels[0], HasDevice: true, Action: levels[1]}
	case 3:
		// levels[0] is the transport prefix (tele, stat, cmnd, ...)
		c = Classification{DeviceID: levels[1], HasDevice: true, Action: levels[2]}
	default:
		return Classification{Category: Other, Action: topic}
	}

	switch {
	case mqtt.IsTopicFilterMatch(ResultFilter, topic):
		c.Category = Result
	case p.IsDeviceID(c.DeviceID):
		c.Category = Discovery
	default:
		c.Category = Other
	}
	return c
}
