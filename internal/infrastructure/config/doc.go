// Package config handles loading and validating Gray Logic Access configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Device passwords live in the database, never in this file
//   - MQTT, InfluxDB and JWT secrets should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/access.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	window := cfg.DebounceWindow()
package config
