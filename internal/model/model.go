package model

import "time"

// Status is a point-in-time view of the display driver, shared between the
// refresh runner and the HTTP API.
type Status struct {
	Model           string `json:"model"`
	Width           int    `json:"width"`
	ControllerWidth int    `json:"controller_width"`
	Height          int    `json:"height"`

	// State is one of "uninitialized", "idle", "busy", "sleeping".
	State string `json:"state"`

	AtUpdate        uint32 `json:"at_update"`
	FullUpdateEvery uint32 `json:"full_update_every"`
	// NextMode is "full" or "partial".
	NextMode                string `json:"next_mode"`
	DeepSleepBetweenUpdates bool   `json:"deep_sleep_between_updates"`

	// Warning is sticky after a failed refresh and cleared by the next
	// successful one.
	Warning   bool   `json:"warning"`
	LastError string `json:"last_error,omitempty"`

	LastMode   string     `json:"last_mode,omitempty"`
	LastUpdate *time.Time `json:"last_update,omitempty"`

	Updates  uint64 `json:"updates"`
	Failures uint64 `json:"failures"`

	// Battery is set when a battery reader is configured and answered.
	Battery *Battery `json:"battery,omitempty"`
}

// Battery is the charge reported by the UPS board.
type Battery struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int `json:"voltage_mv"`
}
