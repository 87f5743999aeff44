// Package config holds the importer configuration and its loader.
package config

import (
	"fmt"

	storageconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/storage/config"
)

// EmbeddedConfig is the raw application.yaml compiled into the binary.
type EmbeddedConfig []byte

// LogLevel is a logging level name as written in configuration.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Restart policies for a chunk step whose previous execution failed.
const (
	// RestartPolicyRestartStep re-reads and re-writes every chunk of the step.
	RestartPolicyRestartStep = "restart-step"
	// RestartPolicyResumeChunk skips the chunks the failed execution committed.
	RestartPolicyResumeChunk = "resume-chunk"
)

// InputConfig describes the delimited input file.
type InputConfig struct {
	// Path is the object name handed to the storage connection.
	Path        string `yaml:"path"`
	Delimiter   string `yaml:"delimiter"`
	LinesToSkip int    `yaml:"lines_to_skip"`
	// Strict rejects lines whose field count differs from the declared names.
	Strict bool `yaml:"strict"`
}

// BatchConfig holds settings for the import job and its chunk step.
type BatchConfig struct {
	JobName        string      `yaml:"job_name"`
	StepName       string      `yaml:"step_name"`
	ChunkSize      int         `yaml:"chunk_size"`
	PoolSize       int         `yaml:"pool_size"`
	RestartPolicy  string      `yaml:"restart_policy"`
	IsolationLevel string      `yaml:"isolation_level"`
	Input          InputConfig `yaml:"input"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig configures the trigger endpoint server.
type HTTPConfig struct {
	Addr                   string `yaml:"addr"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// MetricsConfig selects the metric backend: "prometheus", "otel" or "none".
type MetricsConfig struct {
	Backend string `yaml:"backend"`
	// Protocol is the OTLP transport ("http" or "grpc") when Backend is "otel".
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// TracingConfig selects the span exporter: "none", "http" or "grpc".
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
	HTTP     HTTPConfig    `yaml:"http"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// InfrastructureConfig names the connections used by each component.
type InfrastructureConfig struct {
	// JobRepositoryDBRef is the connection holding batch metadata tables.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// WorkloadDBRef is the connection the customer records are written to.
	WorkloadDBRef string `yaml:"workload_db_ref"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists job parameter keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// SurfinConfig holds everything under the "surfin" key.
type SurfinConfig struct {
	Batch          BatchConfig                 `yaml:"batch"`
	System         SystemConfig                `yaml:"system"`
	Infrastructure InfrastructureConfig        `yaml:"infrastructure"`
	Security       SecurityConfig              `yaml:"security"`
	Storage        storageconfig.StorageConfig `yaml:"storage"`
	// AdapterConfigs maps a connection name to its raw database settings.
	// Providers decode entries into dbconfig.DatabaseConfig.
	AdapterConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root of the application configuration.
type Config struct {
	Surfin         SurfinConfig   `yaml:"surfin"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is set once the configuration has been loaded.
var GlobalConfig *Config

// GetMaskedParameterKeys returns the keys to mask, or nil before configuration is loaded.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return nil
	}
	return GlobalConfig.Surfin.Security.MaskedParameterKeys
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Surfin: SurfinConfig{
			Batch: BatchConfig{
				JobName:       "importCustomers",
				StepName:      "csv-step",
				ChunkSize:     10,
				PoolSize:      10,
				RestartPolicy: RestartPolicyRestartStep,
				Input: InputConfig{
					Path:        "src/main/resources/csv/customers.csv",
					Delimiter:   ",",
					LinesToSkip: 1,
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
				HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeoutSeconds: 10},
				Metrics:  MetricsConfig{Backend: "prometheus", Protocol: "http"},
				Tracing:  TracingConfig{Exporter: "none", ServiceName: "customer-import"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryDBRef: "metadata",
				WorkloadDBRef:      "workload",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Storage: storageconfig.StorageConfig{
				Type:    "local",
				BaseDir: ".",
			},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	b := c.Surfin.Batch
	if b.JobName == "" {
		return fmt.Errorf("batch.job_name must not be empty")
	}
	if b.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be positive, got %d", b.ChunkSize)
	}
	if b.PoolSize <= 0 {
		return fmt.Errorf("batch.pool_size must be positive, got %d", b.PoolSize)
	}
	switch b.RestartPolicy {
	case RestartPolicyRestartStep, RestartPolicyResumeChunk:
	default:
		return fmt.Errorf("batch.restart_policy must be %q or %q, got %q",
			RestartPolicyRestartStep, RestartPolicyResumeChunk, b.RestartPolicy)
	}
	if len([]rune(b.Input.Delimiter)) != 1 {
		return fmt.Errorf("batch.input.delimiter must be a single character, got %q", b.Input.Delimiter)
	}
	if b.Input.LinesToSkip < 0 {
		return fmt.Errorf("batch.input.lines_to_skip must not be negative")
	}
	return nil
}
