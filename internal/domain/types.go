package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JSONMap is free-form metadata stored as a JSON document
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	data, err := scanBytes(value)
	if err != nil || data == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(data, m)
}

// ChannelSet is the set of channels a notification was enabled for, stored comma-separated
type ChannelSet []NotificationChannel

// Contains reports whether c is in the set
func (s ChannelSet) Contains(c NotificationChannel) bool {
	for _, ch := range s {
		if ch == c {
			return true
		}
	}
	return false
}

func (s ChannelSet) Value() (driver.Value, error) {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c)
	}
	return strings.Join(parts, ","), nil
}

func (s *ChannelSet) Scan(value any) error {
	data, err := scanBytes(value)
	if err != nil {
		return err
	}
	*s = nil
	for _, part := range strings.Split(string(data), ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, NotificationChannel(part))
		}
	}
	return nil
}

// ChannelSetting enables or mutes one channel for one event type
type ChannelSetting struct {
	Enabled    bool       `json:"enabled"`
	MutedUntil *time.Time `json:"mutedUntil,omitempty"`
}

// MutedAt reports whether the setting is muted at now
func (c ChannelSetting) MutedAt(now time.Time) bool {
	return c.MutedUntil != nil && now.Before(*c.MutedUntil)
}

// PreferenceSettings holds per-event, per-channel overrides
type PreferenceSettings map[NotificationEventType]map[NotificationChannel]ChannelSetting

func (p PreferenceSettings) lookup(event NotificationEventType, channel NotificationChannel) (ChannelSetting, bool) {
	channels, ok := p[event]
	if !ok {
		return ChannelSetting{}, false
	}
	setting, ok := channels[channel]
	return setting, ok
}

func (p PreferenceSettings) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PreferenceSettings) Scan(value any) error {
	data, err := scanBytes(value)
	if err != nil || data == nil {
		*p = nil
		return err
	}
	return json.Unmarshal(data, p)
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
