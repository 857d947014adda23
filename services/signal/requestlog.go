package signal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/rediskey"
	"ppv-trustcore/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	BackendDatabase = "database"
	BackendRedis    = "redis"

	// redisHorizon bounds how long request timestamps stay in a sorted set.
	redisHorizon = time.Hour
)

// RequestLogStore records requests per address and returns their timestamps.
type RequestLogStore interface {
	Observe(ctx context.Context, entry *RequestLog) error
	// Since returns the request times of address at or after since, oldest first.
	Since(ctx context.Context, address string, since time.Time) ([]time.Time, error)
}

type RequestLogParams struct {
	fx.In

	Config *config.Config
	DB     *gorm.DB
	Node   *snowflake.Node
	Redis  *redis.Client `optional:"true"`
}

// NewRequestLogStore picks the backend named by TRUST.REQUEST_LOG_BACKEND.
// Redis is used only when a client is available.
func NewRequestLogStore(p RequestLogParams) RequestLogStore {
	if p.Config.Trust.RequestLogBackend == BackendRedis && p.Redis != nil {
		zap.L().Info("request log backed by redis")
		return NewRedisRequestLog(p.Redis, p.Node)
	}
	return NewDBRequestLog(p.DB, p.Node)
}

type dbRequestLog struct {
	node *snowflake.Node
	logs repository.Repository[RequestLog]
}

func NewDBRequestLog(db *gorm.DB, node *snowflake.Node) RequestLogStore {
	return &dbRequestLog{
		node: node,
		logs: repository.ProvideStore[RequestLog](db),
	}
}

func (s *dbRequestLog) Observe(ctx context.Context, entry *RequestLog) error {
	if entry.ID == "" {
		entry.ID = s.node.Generate().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

func (s *dbRequestLog) Since(ctx context.Context, address string, since time.Time) ([]time.Time, error) {
	rows, err := s.logs.Find(ctx, &RequestLog{},
		option.ApplyOperator(option.Condition{Field: "address", Operator: option.EQ, Value: address}),
		option.Since(since),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.CreatedAt)
	}
	return out, nil
}

type redisRequestLog struct {
	rdb  *redis.Client
	node *snowflake.Node
}

func NewRedisRequestLog(rdb *redis.Client, node *snowflake.Node) RequestLogStore {
	return &redisRequestLog{rdb: rdb, node: node}
}

// Observe adds the request to reqlog:{address} scored by unix milliseconds
// and trims entries older than the horizon.
func (s *redisRequestLog) Observe(ctx context.Context, entry *RequestLog) error {
	if entry.ID == "" {
		entry.ID = s.node.Generate().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	key := rediskey.BuildRequestLogKey(entry.Address)
	floor := entry.CreatedAt.Add(-redisHorizon).UnixMilli()

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(entry.CreatedAt.UnixMilli()),
		Member: entry.ID,
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(floor, 10))
	pipe.Expire(ctx, key, redisHorizon)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

func (s *redisRequestLog) Since(ctx context.Context, address string, since time.Time) ([]time.Time, error) {
	res, err := s.rdb.ZRangeByScoreWithScores(ctx, rediskey.BuildRequestLogKey(address), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(res))
	for _, z := range res {
		out = append(out, time.UnixMilli(int64(z.Score)).UTC())
	}
	return out, nil
}
