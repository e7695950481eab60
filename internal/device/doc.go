// Package device holds the durable configuration of the VLC players this
// bridge controls.
//
// A Record is created once a setup-time probe succeeds and is removed only by
// explicit removal; it is never edited in place. The identifier is derived
// from host and port so the same player always maps to the same entity.
//
//	┌──────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│   Registry   │───▶│    Repository    │───▶│ device_records   │
//	│ (registry.go)│    │ (repository.go)  │    │ (SQLite)         │
//	│ • cache      │    │ • SQL queries    │    └──────────────────┘
//	│ • Reload     │    └──────────────────┘
//	└──────────────┘
package device
