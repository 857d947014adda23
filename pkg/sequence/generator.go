package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out human readable codes backed by a shared counter.
type Generator interface {
	NextCampaignCode(ctx context.Context) (string, error)
	NextPayoutCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextCampaignCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "CMP")
}

func (g *RedisGenerator) NextPayoutCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "PAY")
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := time.Now().UTC()
	today := now.Format("060102")
	key := fmt.Sprintf("seq:%s:%s", prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		_ = g.rdb.ExpireAt(ctx, key, now.Truncate(24*time.Hour).Add(48*time.Hour)).Err()
	}

	return FormatCode(prefix, today, seq)
}

// FormatCode renders PREFIX-YYMMDD-SEQXX with a base36 sequence padded to three
// characters and a two character random suffix.
func FormatCode(prefix, day string, seq int64) (string, error) {
	encodedSeq := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encodedSeq) < 3 {
		encodedSeq = strings.Repeat("0", 3-len(encodedSeq)) + encodedSeq
	}

	randSuffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
