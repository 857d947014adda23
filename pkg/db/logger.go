package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ppv-trustcore/pkg/config"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// QueryLogger routes gorm's logging through zap. Failed statements are always
// logged, slow ones as warnings, and every statement only outside production.
type QueryLogger struct {
	log     *zap.Logger
	level   logger.LogLevel
	slow    time.Duration
	verbose bool
}

// NewQueryLogger derives the level and slow-query threshold from cfg.
func NewQueryLogger(z *zap.Logger, cfg *config.Config) *QueryLogger {
	l := &QueryLogger{
		log:     z.Named("db"),
		level:   logger.Info,
		slow:    cfg.Database.SlowQuery,
		verbose: true,
	}
	if cfg.AppEnv == "production" {
		l.level = logger.Warn
		l.verbose = false
	}
	return l
}

func (l *QueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info("[DB] " + fmt.Sprintf(msg, data...))
	}
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn("[DB] " + fmt.Sprintf(msg, data...))
	}
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error("[DB] " + fmt.Sprintf(msg, data...))
	}
}

func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, logger.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow
	if !failed && !slow && !(l.verbose && l.level >= logger.Info) {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("caller", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}

	switch {
	case failed:
		l.log.Error("[DB] statement failed", append(fields, zap.Error(err))...)
	case slow:
		l.log.Warn("[DB] slow statement", append(fields, zap.Duration("threshold", l.slow))...)
	default:
		l.log.Info("[DB] statement", fields...)
	}
}
