// Package consts holds the small set of string constants shared across the
// core and its bundled components: a flat consts package rather than
// scattering magic strings through every file.
package consts

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"

	DefaultConfigPath = "config.yaml"

	KeyTraceID = "trace_id"
)

// Well-known component names used by the bundled drivers in internal/components.
// Core code never references these directly; only the sample registration
// wiring in internal/registry does.
const (
	ComponentLogging      = "logging"
	ComponentHTTPServer   = "http_server"
	ComponentHTTPClients  = "http_clients"
	ComponentMySQL        = "mysql"
	ComponentRedis        = "redis"
	ComponentGRPCServer   = "grpc_server"
	ComponentGRPCClients  = "grpc_clients"
	ComponentPrometheus   = "prometheus"
	ComponentTelemetry    = "telemetry"
	ComponentMySQLGorm    = "mysql_gorm"
	ComponentPostgresGorm = "postgres_gorm"
)
