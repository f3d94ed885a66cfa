// Package config loads keyrelay's YAML configuration.
//
// Loading order: built-in defaults, then the YAML file (unknown fields are
// rejected), then KEYRELAY_SECTION_FIELD environment variables, then
// validation, which reports every invalid field at once as a
// ValidationError.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("keyrelay.yaml")
//
// Secrets such as the primary provider's default key are best supplied
// through the environment (KEYRELAY_PROVIDERS_PRIMARY_DEFAULT_KEY).
//
// A process-wide copy is kept by Initialize/GetConfig, and Watcher reloads
// it when the file changes.
package config
