package service

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"powercal/internal/models"
	"powercal/internal/topic"
)

var ErrUnknownDevice = errors.New("unknown device")

// RegistryService is the live device table.
type RegistryService struct {
	parser  *topic.Parser
	nameKey string

	mu   sync.RWMutex
	rows map[string]*models.DeviceRow
}

func NewRegistryService(parser *topic.Parser, nameKey string) *RegistryService {
	if nameKey == "" {
		nameKey = "DeviceName"
	}
	return &RegistryService{
		parser:  parser,
		nameKey: nameKey,
		rows:    make(map[string]*models.DeviceRow),
	}
}

// Observe registers id on first sighting. Ids outside the device naming
// convention are never stored.
func (r *RegistryService) Observe(id string) bool {
	if !r.parser.IsDeviceID(id) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; ok {
		return false
	}
	r.rows[id] = &models.DeviceRow{ID: id, Metrics: make(map[models.MetricKind]string)}
	return true
}

// ApplyResult stores one key/value pair of a result report.
func (r *RegistryService) ApplyResult(id, key, value string) (ResultChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return ResultChange{}, ErrUnknownDevice
	}

	if strings.EqualFold(key, r.nameKey) {
		name := value
		row.Name = &name
		return ResultChange{Outcome: Renamed, Value: value}, nil
	}
	if kind := models.MetricKindForVariable(key); kind != models.MetricUnknown {
		row.Metrics[kind] = value
		return ResultChange{Outcome: MetricUpdated, Metric: kind, Value: value}, nil
	}
	return ResultChange{Outcome: Unrecognized, Value: value}, nil
}

// Devices returns a copy of every row sorted by display name, then id.
func (r *RegistryService) Devices() []models.DeviceRow {
	r.mu.RLock()
	out := make([]models.DeviceRow, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].DisplayName(), out[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *RegistryService) Device(id string) (models.DeviceRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return models.DeviceRow{}, false
	}
	return row.Clone(), true
}

// ResolveName maps a friendly name, or its NameToken form, to the device id.
// When several devices share a name the lowest id wins.
func (r *RegistryService) ResolveName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token := models.NameToken(name)
	if token == "" {
		return "", false
	}
	var (
		found string
		ok    bool
	)
	for id, row := range r.rows {
		if row.Name == nil || models.NameToken(*row.Name) != token {
			continue
		}
		if !ok || id < found {
			found, ok = id, true
		}
	}
	return found, ok
}
