// Package registry wires the configured components sections to the
// concrete Factory each bundled driver in internal/components exposes.
// The registry that preceded this one had to
// topologically sort its builders itself, inferring dependencies from
// struct tags, because its Container built components in a fixed,
// precomputed order; this model's component.Context.Load builds its
// dependency graph online from each factory's own FindComponent calls, so
// Register here does no ordering at all — it just hands every configured
// section to its matching Factory and lets Load figure out the rest.
package registry

import (
	"fmt"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/grpcclient"
	"github.com/shuva10v/userver-go/internal/components/grpcserver"
	"github.com/shuva10v/userver-go/internal/components/httpclient"
	"github.com/shuva10v/userver-go/internal/components/httpserver"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/components/mysql"
	"github.com/shuva10v/userver-go/internal/components/mysqlgorm"
	"github.com/shuva10v/userver-go/internal/components/postgresgorm"
	"github.com/shuva10v/userver-go/internal/components/prometheus"
	"github.com/shuva10v/userver-go/internal/components/redis"
	"github.com/shuva10v/userver-go/internal/components/telemetry"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Builder turns a component's own config section into the component.Factory
// its package exposes. Kept as a named type (rather than an inline
// map value type) so the grpc_server entry in builtins can wrap a factory
// that additionally takes the caller's service RegisterFuncs.
type Builder func(section *config.ComponentSection) component.Factory

// builtins maps every well-known component name in internal/consts to the
// driver package that implements it. An application with bespoke
// components of its own builds a copy of this map (or its own from
// scratch) and passes additional entries to Register.
func builtins() map[string]Builder {
	return map[string]Builder{
		consts.ComponentLogging:      logging.Factory,
		consts.ComponentHTTPServer:   httpserver.Factory,
		consts.ComponentHTTPClients:  httpclient.Factory,
		consts.ComponentMySQL:        mysql.Factory,
		consts.ComponentMySQLGorm:    mysqlgorm.Factory,
		consts.ComponentPostgresGorm: postgresgorm.Factory,
		consts.ComponentRedis:        redis.Factory,
		consts.ComponentPrometheus:   prometheus.Factory,
		consts.ComponentTelemetry:    telemetry.Factory,
		consts.ComponentGRPCClients:  grpcclient.Factory,
		consts.ComponentGRPCServer: func(section *config.ComponentSection) component.Factory {
			return grpcserver.Factory(section)
		},
	}
}

// Register returns a function of manager.RegisterFunc's shape (spelled out
// rather than named, so this package does not import internal/manager) that adds every
// section present in cfg.Components to ctx, using extra to override or add
// to the builtin name-to-Builder map — the Go-idiomatic stand-in for the
// registry.Register/RegisterAuto calls an application would make before
// BuildAndRegisterAll.
func Register(cfg *config.ManagerConfig, extra map[string]Builder) func(ctx *component.Context) error {
	return func(ctx *component.Context) error {
		all := builtins()
		for name, b := range extra {
			all[name] = b
		}
		for name, section := range cfg.Components {
			if section == nil || !section.IsSet() {
				continue
			}
			b, ok := all[name]
			if !ok {
				return fmt.Errorf("registry: component %q: %w", name, component.ErrMissingComponent)
			}
			if err := ctx.AddComponent(name, b(section)); err != nil {
				return fmt.Errorf("registry: add component %q: %w", name, err)
			}
			if !section.LoadEnabled() {
				ctx.Disable(name)
			}
		}
		return nil
	}
}
