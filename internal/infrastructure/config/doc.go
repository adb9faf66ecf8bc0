// Package config handles loading and validating Nexauth broker configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (NEXAUTH_* prefix)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (JWT secret, MQTT/InfluxDB/SMTP credentials) should
//     be set via environment variables, not committed to the config file
//   - The config file should have restricted permissions (0600)
//   - The JWT signing secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.Name)
package config
