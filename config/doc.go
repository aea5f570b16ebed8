// Package config provides configuration loading for varnet applications.
//
// Configuration is layered: built-in defaults, then any number of JSON or YAML files,
// then VARNET_* environment variables. Each file is checked against an embedded JSON
// schema before it is merged, and the merged result passes semantic validation. Any
// problem is a fatal configuration error (errors.IsFatal) so the application never
// starts with a half-understood setup.
//
// # Core Components
//
// Config: the typed configuration with sections for the application, the delivery
// engine, deterministic test mode, the watchdog, backend recovery, the variable
// directory, configured devices and the metrics endpoint.
//
// SafeConfig: thread-safe wrapper using RWMutex and deep cloning.
//
// Loader: layer merging and environment overrides.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("varnet.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations are written as Go duration strings:
//
//	watchdog:
//	  interval: 1s
//	  stall_after: 30s
//
// # Environment Overrides
//
//	VARNET_APPLICATION_NAME, VARNET_DIRECTORY_KIND, VARNET_NATS_URL,
//	VARNET_NATS_BUCKET, VARNET_NATS_USERNAME, VARNET_NATS_PASSWORD,
//	VARNET_NATS_TOKEN, VARNET_ENGINE_QUEUE_LENGTH, VARNET_METRICS_PORT,
//	VARNET_TESTABLE
package config
