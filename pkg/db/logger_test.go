package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"ppv-trustcore/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func newObserved(t *testing.T, env string) (*QueryLogger, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.Default()
	cfg.AppEnv = env
	cfg.Database.SlowQuery = 50 * time.Millisecond
	return NewQueryLogger(zap.New(core), cfg), logs
}

func statement() (string, int64) { return "SELECT 1", 1 }

func TestQueryLoggerProduction(t *testing.T) {
	l, logs := newObserved(t, "production")
	ctx := context.Background()

	l.Trace(ctx, time.Now(), statement, nil)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), statement, logger.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), statement, nil)
	slow := logs.FilterMessage("[DB] slow statement").All()
	require.Len(t, slow, 1)
	require.Equal(t, zapcore.WarnLevel, slow[0].Level)
	require.Equal(t, "db", slow[0].LoggerName)

	l.Trace(ctx, time.Now(), statement, errors.New("boom"))
	failed := logs.FilterMessage("[DB] statement failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "SELECT 1", failed[0].ContextMap()["sql"])
}

func TestQueryLoggerDevelopmentLogsEveryStatement(t *testing.T) {
	l, logs := newObserved(t, "development")

	l.Trace(context.Background(), time.Now(), statement, nil)
	require.Equal(t, 1, logs.FilterMessage("[DB] statement").Len())

	silent := l.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), statement, errors.New("boom"))
	require.Equal(t, 1, logs.Len())
}
