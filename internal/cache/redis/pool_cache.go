package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// poolCacheTTL bounds staleness if an invalidation is ever lost.
const poolCacheTTL = 5 * time.Minute

// PoolCache implements domain.PoolCache using Redis string keys holding JSON
// snapshots. Writers refresh the entry after every accepted bet and drop it
// on resolution.
type PoolCache struct {
	rdb *redis.Client
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client) *PoolCache {
	return &PoolCache{rdb: c.Underlying()}
}

func poolCacheKey(id int64) string {
	return fmt.Sprintf("pool:%d:snapshot", id)
}

// cachedPool is the JSON shape stored in Redis. Big integers travel as
// decimal strings to survive any JSON number handling.
type cachedPool struct {
	ID         int64     `json:"id"`
	Feed       string    `json:"feed"`
	Threshold  string    `json:"threshold"`
	Deadline   time.Time `json:"deadline"`
	Active     bool      `json:"active"`
	TotalAbove string    `json:"total_above"`
	TotalBelow string    `json:"total_below"`
	Bettors    int       `json:"bettors"`
	CreatedAt  time.Time `json:"created_at"`
}

// Set stores a pool snapshot.
func (pc *PoolCache) Set(ctx context.Context, info domain.PoolInfo) error {
	data, err := json.Marshal(cachedPool{
		ID:         info.ID,
		Feed:       info.Feed.Hex(),
		Threshold:  bigText(info.Threshold),
		Deadline:   info.Deadline,
		Active:     info.Active,
		TotalAbove: bigText(info.TotalAbove),
		TotalBelow: bigText(info.TotalBelow),
		Bettors:    info.Bettors,
		CreatedAt:  info.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal pool %d: %w", info.ID, err)
	}

	if err := pc.rdb.Set(ctx, poolCacheKey(info.ID), data, poolCacheTTL).Err(); err != nil {
		return fmt.Errorf("redis: cache pool %d: %w", info.ID, err)
	}
	return nil
}

// Get retrieves a pool snapshot. It returns domain.ErrNotFound on a miss.
func (pc *PoolCache) Get(ctx context.Context, id int64) (domain.PoolInfo, error) {
	data, err := pc.rdb.Get(ctx, poolCacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PoolInfo{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PoolInfo{}, fmt.Errorf("redis: get pool %d: %w", id, err)
	}

	var c cachedPool
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.PoolInfo{}, fmt.Errorf("redis: unmarshal pool %d: %w", id, err)
	}

	threshold, err := parseBigText(c.Threshold)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	above, err := parseBigText(c.TotalAbove)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	below, err := parseBigText(c.TotalBelow)
	if err != nil {
		return domain.PoolInfo{}, err
	}

	return domain.PoolInfo{
		ID:         c.ID,
		Feed:       common.HexToAddress(c.Feed),
		Threshold:  threshold,
		Deadline:   c.Deadline,
		Active:     c.Active,
		TotalAbove: above,
		TotalBelow: below,
		Bettors:    c.Bettors,
		CreatedAt:  c.CreatedAt,
	}, nil
}

// Invalidate drops a pool's cached snapshot.
func (pc *PoolCache) Invalidate(ctx context.Context, id int64) error {
	if err := pc.rdb.Del(ctx, poolCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %d: %w", id, err)
	}
	return nil
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBigText(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("redis: malformed numeric %q", s)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.PoolCache = (*PoolCache)(nil)
