package plugin

import "time"

// PluginsSnapshot is a point-in-time view of plugin runtime state.
type PluginsSnapshot struct {
	Time    time.Time      `json:"time"`
	Plugins []PluginStatus `json:"plugins"`
}

// PluginStatus captures enable/run/quarantine state of one plugin.
type PluginStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	HasConfig bool   `json:"has_config"`

	Quarantined     bool      `json:"quarantined"`
	QuarantineErr   string    `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time `json:"quarantine_since,omitzero"`
}
