// Package postgresgorm implements a postgresgorm component, adapted to
// this module's Factory shape, including its migration runner and
// TimescaleDB extension support, sharing the gorm logger.Interface adapter
// with mysqlgorm via internal/components/gormlog.
package postgresgorm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/gormlog"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// DataSourceConfig mirrors postgresgorm.DataSourceConfig.
type DataSourceConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`

	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"password" json:"password"`
	Database string            `yaml:"database" json:"database"`
	Params   map[string]string `yaml:"params" json:"params"`

	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life" json:"conn_max_life"`
	ConnMaxIdle  time.Duration `yaml:"conn_max_idle" json:"conn_max_idle"`
	PingOnStart  bool          `yaml:"ping_on_start" json:"ping_on_start"`

	SkipDefaultTransaction bool `yaml:"skip_default_tx" json:"skip_default_tx"`
	PrepareStmt            bool `yaml:"prepare_stmt" json:"prepare_stmt"`

	MigrateEnabled bool   `yaml:"migrate_enabled" json:"migrate_enabled"`
	MigrateDir     string `yaml:"migrate_dir" json:"migrate_dir"`

	EnableTimescale bool   `yaml:"enable_timescale" json:"enable_timescale"`
	TimescaleSchema string `yaml:"timescale_schema" json:"timescale_schema"`
}

// Config mirrors postgresgorm.Config.
type Config struct {
	Enabled       bool                         `yaml:"enabled" json:"enabled"`
	DataSources   map[string]*DataSourceConfig `yaml:"data_sources" json:"data_sources"`
	LogLevel      string                       `yaml:"log_level" json:"log_level"`
	SlowThreshold time.Duration                `yaml:"slow_threshold" json:"slow_threshold"`
}

// DataSources holds one *gorm.DB per configured name.
type DataSources struct {
	mu  sync.RWMutex
	dbs map[string]*gorm.DB
}

// Factory decodes section, opens a gorm.DB per data source over
// gorm.io/driver/postgres, optionally runs .sql migrations and ensures the
// TimescaleDB extension, and returns the aggregate.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("postgresgorm: component disabled")
		}
		if len(cfg.DataSources) == 0 {
			return nil, fmt.Errorf("postgresgorm: no data_sources configured")
		}

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("postgresgorm: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("postgresgorm: logging component has unexpected type %T", loggerComp)
		}
		gLog := gormlog.New(logger, cfg.LogLevel, cfg.SlowThreshold)

		ds := &DataSources{dbs: make(map[string]*gorm.DB)}
		for name, dsCfg := range cfg.DataSources {
			if dsCfg == nil {
				ds.closeAll()
				return nil, fmt.Errorf("postgresgorm: data source %q config is nil", name)
			}
			dsn, err := buildDSN(dsCfg)
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("postgresgorm: build dsn for %q: %w", name, err)
			}

			gormDB, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{
				Logger:                 gLog,
				SkipDefaultTransaction: dsCfg.SkipDefaultTransaction,
				PrepareStmt:            dsCfg.PrepareStmt,
			})
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("postgresgorm: open %q: %w", name, err)
			}

			sqlDB, err := gormDB.DB()
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("postgresgorm: underlying sql.DB for %q: %w", name, err)
			}

			if dsCfg.MaxOpenConns > 0 {
				sqlDB.SetMaxOpenConns(dsCfg.MaxOpenConns)
			} else {
				sqlDB.SetMaxOpenConns(50)
			}
			if dsCfg.MaxIdleConns > 0 {
				sqlDB.SetMaxIdleConns(dsCfg.MaxIdleConns)
			} else {
				sqlDB.SetMaxIdleConns(10)
			}
			if dsCfg.ConnMaxLife > 0 {
				sqlDB.SetConnMaxLifetime(dsCfg.ConnMaxLife)
			} else {
				sqlDB.SetConnMaxLifetime(60 * time.Minute)
			}
			if dsCfg.ConnMaxIdle > 0 {
				sqlDB.SetConnMaxIdleTime(dsCfg.ConnMaxIdle)
			}

			if dsCfg.PingOnStart {
				pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := sqlDB.PingContext(pingCtx)
				cancel()
				if pingErr != nil {
					_ = sqlDB.Close()
					ds.closeAll()
					return nil, fmt.Errorf("postgresgorm: ping %q: %w", name, pingErr)
				}
			}

			if dsCfg.MigrateEnabled {
				if strings.TrimSpace(dsCfg.MigrateDir) == "" {
					_ = sqlDB.Close()
					ds.closeAll()
					return nil, fmt.Errorf("postgresgorm: data source %q migrate_enabled but migrate_dir empty", name)
				}
				if err := runMigrations(context.Background(), sqlDB, dsCfg.MigrateDir); err != nil {
					_ = sqlDB.Close()
					ds.closeAll()
					return nil, fmt.Errorf("postgresgorm: migrations for %q: %w", name, err)
				}
			}

			if dsCfg.EnableTimescale {
				if err := ensureTimescaleExtension(context.Background(), sqlDB, dsCfg.TimescaleSchema); err != nil {
					_ = sqlDB.Close()
					ds.closeAll()
					return nil, fmt.Errorf("postgresgorm: timescale for %q: %w", name, err)
				}
			}

			ds.dbs[name] = gormDB
			logger.Info(context.Background(), "postgresgorm data source initialized", zap.String("name", name))
		}

		logger.Info(context.Background(), "postgresgorm component started", zap.Strings("data_sources", ds.names()))
		return ds, nil
	}
}

func buildDSN(ds *DataSourceConfig) (string, error) {
	if strings.TrimSpace(ds.DSN) != "" {
		return ds.DSN, nil
	}
	if ds.Host == "" || ds.User == "" || ds.Database == "" {
		return "", fmt.Errorf("host, user, database required when dsn not provided")
	}
	port := ds.Port
	if port == 0 {
		port = 5432
	}
	base := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d", ds.Host, ds.User, ds.Password, ds.Database, port)
	var extras []string
	for k, v := range ds.Params {
		extras = append(extras, fmt.Sprintf("%s=%s", k, v))
	}
	if len(extras) > 0 {
		base += " " + strings.Join(extras, " ")
	}
	return base, nil
}

// runMigrations executes every .sql file in dir in lexical order,
// statement by statement, split on ";" — identical semantics to
// runGormMigrations.
func runMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		for _, stmt := range strings.Split(string(b), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s: %w", f, err)
			}
		}
	}
	return nil
}

func ensureTimescaleExtension(ctx context.Context, db *sql.DB, schema string) error {
	q := "CREATE EXTENSION IF NOT EXISTS timescaledb"
	if strings.TrimSpace(schema) != "" {
		q += " SCHEMA " + schema
	}
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create timescaledb extension: %w", err)
	}
	return nil
}

// DB returns the named data source's *gorm.DB.
func (ds *DataSources) DB(name string) (*gorm.DB, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	db, ok := ds.dbs[name]
	if !ok {
		return nil, fmt.Errorf("postgresgorm: data source %q not found", name)
	}
	return db, nil
}

// EnsureHypertable ensures a TimescaleDB hypertable exists for table.
func (ds *DataSources) EnsureHypertable(ctx context.Context, dsName, table, timeColumn, chunkInterval string) error {
	gdb, err := ds.DB(dsName)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("postgresgorm: underlying sql.DB for %q: %w", dsName, err)
	}
	if table == "" || timeColumn == "" {
		return fmt.Errorf("postgresgorm: table and timeColumn required")
	}
	var stmt string
	if strings.TrimSpace(chunkInterval) != "" {
		stmt = fmt.Sprintf("SELECT create_hypertable('%s','%s', if_not_exists => TRUE, chunk_time_interval => INTERVAL '%s');", table, timeColumn, chunkInterval)
	} else {
		stmt = fmt.Sprintf("SELECT create_hypertable('%s','%s', if_not_exists => TRUE);", table, timeColumn)
	}
	if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("postgresgorm: create_hypertable %s: %w", table, err)
	}
	return nil
}

func (ds *DataSources) names() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	names := make([]string, 0, len(ds.dbs))
	for k := range ds.dbs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (ds *DataSources) closeAll() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, gdb := range ds.dbs {
		if gdb != nil {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	}
	ds.dbs = make(map[string]*gorm.DB)
}

// ClearComponent closes every pooled connection.
func (ds *DataSources) ClearComponent() {
	ds.closeAll()
}
