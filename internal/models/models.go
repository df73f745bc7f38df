// Package models defines the data structures shared between the directory,
// the pollers, the persistence layer, and the launcher-facing API.
package models

import "time"

// Platform identifies the ecosystem a community server belongs to. The value
// is opaque to most of the engine; the heartbeat poller uses it to pick a
// query protocol.
type Platform string

// Known platform tags.
const (
	PlatformSteam    Platform = "steam"
	PlatformRockstar Platform = "rockstar"
)

// Source describes how a server record entered the directory.
type Source string

// Record sources.
const (
	SourceManual   Source = "manual"
	SourceImported Source = "imported"
)

// ServerRecord is the identity and configuration of one community server.
// Records are owned exclusively by the directory; pollers receive copies
// and never retain them across calls.
type ServerRecord struct {
	// ID is a stable unique identifier assigned when the record is created.
	ID string `json:"id"`

	// Label is the user-assigned display name.
	Label string `json:"label"`

	// Host is the server address (IP or hostname).
	Host string `json:"host"`

	// Port is the heartbeat/query port.
	Port int `json:"port"`

	// WebsiteURL is the optional companion website used for theming.
	WebsiteURL string `json:"website_url,omitempty"`

	// Platform selects the heartbeat protocol (e.g. Steam uses A2S).
	Platform Platform `json:"platform,omitempty"`

	// Source records whether the entry was added by hand or imported
	// from the community master list.
	Source Source `json:"source"`

	// Trusted and Important are master-list flags surfaced in the UI.
	Trusted   bool `json:"trusted,omitempty"`
	Important bool `json:"important,omitempty"`

	// CountryCode is the ISO country code resolved via GeoIP, if available.
	CountryCode string `json:"country_code,omitempty"`

	// AddedAt is when the record was created.
	AddedAt time.Time `json:"added_at"`
}

// ServerState is the liveness classification of a server.
type ServerState string

// Liveness states.
const (
	// StateUnknown means no poll has succeeded yet.
	StateUnknown ServerState = "unknown"

	// StateOnline means the last poll answered with a valid payload.
	StateOnline ServerState = "online"

	// StateOffline means the server answered definitively that it is down.
	StateOffline ServerState = "offline"

	// StateError means the last poll attempt failed. The previous
	// Online/Offline snapshot is retained for display.
	StateError ServerState = "error"
)

// LiveStatus is the latest known liveness of one server. Each value carries
// the time it was produced so the directory can apply updates
// last-write-wins by recency rather than by arrival order.
type LiveStatus struct {
	State ServerState `json:"state"`

	// Players, MaxPlayers and LatencyMs describe the last successful poll.
	// They survive a transition to StateError so the UI can keep showing
	// the stale snapshot.
	Players    int   `json:"players"`
	MaxPlayers int   `json:"max_players"`
	LatencyMs  int64 `json:"latency_ms"`

	// LastSeenAt is the time of the last successful poll.
	LastSeenAt time.Time `json:"last_seen_at"`

	// LastAttemptAt is the time of the most recent poll attempt,
	// successful or not.
	LastAttemptAt time.Time `json:"last_attempt_at"`

	// Reason explains the failure when State is StateError.
	Reason string `json:"reason,omitempty"`

	// CheckedAt is when this status value was produced.
	CheckedAt time.Time `json:"checked_at"`
}

// ThemeSource flags whether theme colors came from the server's website or
// from the built-in defaults.
type ThemeSource string

// Theme sources.
const (
	ThemeRemote  ThemeSource = "remote"
	ThemeDefault ThemeSource = "default"
)

// ThemeData maps the recognized theme variable names to validated color
// values. Every recognized key is always present: missing or invalid remote
// values are filled from the default palette, so a ThemeData is total by
// construction.
type ThemeData struct {
	Colors    map[string]string `json:"colors"`
	FetchedAt time.Time         `json:"fetched_at"`
	Source    ThemeSource       `json:"source"`
}

// Clone returns a deep copy so callers can hold a ThemeData without
// aliasing the directory's map.
func (t ThemeData) Clone() ThemeData {
	colors := make(map[string]string, len(t.Colors))
	for k, v := range t.Colors {
		colors[k] = v
	}

	return ThemeData{Colors: colors, FetchedAt: t.FetchedAt, Source: t.Source}
}

// HeartbeatPayload is the loosely-validated response of an HTTP heartbeat
// endpoint. The wire format is owned by the community heartbeat script, so
// every field except the player count is optional.
type HeartbeatPayload struct {
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players,omitempty"`
	Version    string `json:"version,omitempty"`
	Status     string `json:"status,omitempty"`
}
