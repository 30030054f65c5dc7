// Package mysql implements a mysql component, adapted to this module's
// Factory shape.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// DataSourceConfig mirrors MySQLDataSourceConfig.
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
}

// Config mirrors MySQLConfig: multiple named data sources
// under one component.
type Config struct {
	Enabled     bool                         `yaml:"enabled" json:"enabled"`
	DataSources map[string]*DataSourceConfig `yaml:"data_sources" json:"data_sources"`
}

// DataSources opens and pools one *sql.DB per configured name, reachable
// through bc.FindComponent(consts.ComponentMySQL).
type DataSources struct {
	mu        sync.RWMutex
	databases map[string]*sql.DB
}

// Factory decodes section, opens every configured data source, optionally
// pings each on start, and returns the aggregate. Any failure closes
// whatever was already opened before returning the error.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("mysql: component disabled")
		}
		if len(cfg.DataSources) == 0 {
			return nil, fmt.Errorf("mysql: no data_sources configured")
		}

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("mysql: logging component has unexpected type %T", loggerComp)
		}

		ds := &DataSources{databases: make(map[string]*sql.DB)}
		for name, dsCfg := range cfg.DataSources {
			if dsCfg == nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysql: data source %q config is nil", name)
			}
			dsn, err := buildDSN(dsCfg)
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysql: build dsn for %q: %w", name, err)
			}

			db, err := sql.Open("mysql", dsn)
			if err != nil {
				ds.closeAll()
				return nil, fmt.Errorf("mysql: open %q: %w", name, err)
			}

			if dsCfg.MaxOpenConns > 0 {
				db.SetMaxOpenConns(dsCfg.MaxOpenConns)
			} else {
				db.SetMaxOpenConns(50)
			}
			if dsCfg.MaxIdleConns > 0 {
				db.SetMaxIdleConns(dsCfg.MaxIdleConns)
			} else {
				db.SetMaxIdleConns(10)
			}
			if dsCfg.ConnMaxLife > 0 {
				db.SetConnMaxLifetime(dsCfg.ConnMaxLife)
			} else {
				db.SetConnMaxLifetime(60 * time.Minute)
			}
			if dsCfg.ConnMaxIdle > 0 {
				db.SetConnMaxIdleTime(dsCfg.ConnMaxIdle)
			}

			if dsCfg.PingOnStart {
				pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := db.PingContext(pingCtx)
				cancel()
				if pingErr != nil {
					_ = db.Close()
					ds.closeAll()
					return nil, fmt.Errorf("mysql: ping %q: %w", name, pingErr)
				}
			}

			ds.databases[name] = db
			logger.Info(context.Background(), "mysql data source initialized", zap.String("name", name))
		}

		logger.Info(context.Background(), "mysql component started", zap.Strings("data_sources", ds.names()))
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

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		ds.User, ds.Password, ds.Host, port, ds.Database, params.Encode()), nil
}

// DB returns the named data source's *sql.DB.
func (ds *DataSources) DB(name string) (*sql.DB, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	db, ok := ds.databases[name]
	if !ok {
		return nil, fmt.Errorf("mysql: data source %q not found", name)
	}
	return db, nil
}

func (ds *DataSources) names() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	names := make([]string, 0, len(ds.databases))
	for k := range ds.databases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (ds *DataSources) closeAll() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, db := range ds.databases {
		if db != nil {
			_ = db.Close()
		}
	}
	ds.databases = make(map[string]*sql.DB)
}

// ClearComponent closes every pooled *sql.DB.
func (ds *DataSources) ClearComponent() {
	ds.closeAll()
}
