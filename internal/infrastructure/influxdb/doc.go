// Package influxdb records access metrics in InfluxDB.
//
// Two measurements are written:
//   - access_events: one point per handled recognition (decision, type, device)
//   - livesync: one point per device call in a provisioning fan-out
//
// InfluxDB is optional. When influxdb.enabled is false, Connect returns
// ErrDisabled and callers run without metrics.
//
// All methods are safe for concurrent use. The underlying write API batches
// points and never blocks the caller.
package influxdb
