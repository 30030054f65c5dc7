// Package mysqlgorm implements a mysqlgorm component, adapted to this
// module's Factory shape, sharing its gorm logger.Interface adapter with
// postgresgorm via internal/components/gormlog instead of duplicating
// gormLogger.
package mysqlgorm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sort"
	"sync"
	"time"

	mysqlDriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"go.uber.org/zap"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/gormlog"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// DataSourceConfig mirrors mysqlgorm.DataSourceConfig.
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
}

// Config mirrors mysqlgorm.Config.
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

// Factory decodes section, opens a gorm.DB per data source over the
// go-sql-driver/mysql driver, and returns the aggregate.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("mysqlgorm: component disabled")
		}
		if len(cfg.DataSources) == 0 {
			return nil, fmt.Errorf("mysqlgorm: no data_sources configured")
		}

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("mysqlgorm: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("mysqlgorm: logging component has unexpected type %T", loggerComp)
		}
		gLog := gormlog.New(logger, cfg.LogLevel, cfg.SlowThreshold)

		ds := &DataSources{dbs: make(map[string]*gorm.DB)}
		for name, dsCfg := range cfg.DataSources {
			if dsCfg == nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysqlgorm: data source %q config is nil", name)
			}
			dsn, err := buildDSN(dsCfg)
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysqlgorm: build dsn for %q: %w", name, err)
			}

			gormDB, err := gorm.Open(mysqlDriver.New(mysqlDriver.Config{DSN: dsn}), &gorm.Config{
				Logger:                                   gLog,
				SkipDefaultTransaction:                   dsCfg.SkipDefaultTransaction,
				PrepareStmt:                              dsCfg.PrepareStmt,
				DisableForeignKeyConstraintWhenMigrating: true,
			})
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysqlgorm: open %q: %w", name, err)
			}

			sqlDB, err := gormDB.DB()
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysqlgorm: underlying sql.DB for %q: %w", name, err)
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
					return nil, fmt.Errorf("mysqlgorm: ping %q: %w", name, pingErr)
				}
			}

			ds.dbs[name] = gormDB
			logger.Info(context.Background(), "mysqlgorm data source initialized", zap.String("name", name))
		}

		logger.Info(context.Background(), "mysqlgorm component started", zap.Strings("data_sources", ds.names()))
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
		port = 3306
	}
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("charset", "utf8mb4")
	params.Set("loc", "Local")
	for k, v := range ds.Params {
		params.Set(k, v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", ds.User, ds.Password, ds.Host, port, ds.Database, params.Encode()), nil
}

// DB returns the named data source's *gorm.DB.
func (ds *DataSources) DB(name string) (*gorm.DB, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	db, ok := ds.dbs[name]
	if !ok {
		return nil, fmt.Errorf("mysqlgorm: data source %q not found", name)
	}
	return db, nil
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
