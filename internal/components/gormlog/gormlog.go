// Package gormlog consolidates a gormLogger type — previously duplicated
// almost verbatim across mysqlgorm and postgresgorm — into one shared
// implementation of gorm.io/gorm/logger.Interface that both components
// import, bound to a logging.Logger resolved at construction time instead
// of a package-level logging.Infof/Warnf/Errorf/Debugf call.
package gormlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shuva10v/userver-go/internal/components/logging"
)

type adapter struct {
	logger        logging.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// New builds a gorm logger.Interface backed by l, with level and
// slow-query threshold taken from the component's own config.
func New(l logging.Logger, level string, slowThreshold time.Duration) logger.Interface {
	lvl := logger.Info
	switch strings.ToLower(level) {
	case "silent":
		lvl = logger.Silent
	case "error":
		lvl = logger.Error
	case "warn", "warning":
		lvl = logger.Warn
	case "info", "debug", "":
		lvl = logger.Info
	}
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &adapter{logger: l, logLevel: lvl, slowThreshold: slowThreshold}
}

func (a *adapter) LogMode(level logger.LogLevel) logger.Interface {
	na := *a
	na.logLevel = level
	return &na
}

func (a *adapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if a.logLevel >= logger.Info {
		a.logger.Info(ctx, "gorm: "+msg, zap.Any("args", data))
	}
}

func (a *adapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if a.logLevel >= logger.Warn {
		a.logger.Warn(ctx, "gorm: "+msg, zap.Any("args", data))
	}
}

func (a *adapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if a.logLevel >= logger.Error {
		a.logger.Error(ctx, "gorm: "+msg, zap.Any("args", data))
	}
}

func (a *adapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if a.logLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sqlStr, rows := fc()
	fields := []zap.Field{zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sqlStr)}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && a.logLevel >= logger.Error {
		a.logger.Error(ctx, "gorm: query error", append(fields, zap.Error(err))...)
		return
	}
	if a.slowThreshold > 0 && elapsed > a.slowThreshold && a.logLevel >= logger.Warn {
		a.logger.Warn(ctx, "gorm: slow query", append(fields, zap.Duration("threshold", a.slowThreshold))...)
		return
	}
	if a.logLevel >= logger.Info {
		a.logger.Debug(ctx, "gorm: query", fields...)
	}
}
