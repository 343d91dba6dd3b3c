package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CheckpointKey is the Redis hash holding the last processed block per
// watched address.
const CheckpointKey = "ledger:cursors"

// Checkpoints persists how far each address has been processed.
type Checkpoints interface {
	Load(ctx context.Context, address string) (block uint64, ok bool, err error)
	Save(ctx context.Context, address string, block uint64) error
}

type RedisCheckpoints struct {
	redis redis.Cmdable
	key   string
}

func NewRedisCheckpoints(redisClient redis.Cmdable) *RedisCheckpoints {
	return &RedisCheckpoints{redis: redisClient, key: CheckpointKey}
}

func (c *RedisCheckpoints) Load(ctx context.Context, address string) (uint64, bool, error) {
	raw, err := c.redis.HGet(ctx, c.key, address).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %s: %w", address, err)
	}

	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s is not a block number: %q", address, raw)
	}
	return block, true, nil
}

func (c *RedisCheckpoints) Save(ctx context.Context, address string, block uint64) error {
	if err := c.redis.HSet(ctx, c.key, address, strconv.FormatUint(block, 10)).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", address, err)
	}
	return nil
}

// MemoryCheckpoints keeps checkpoints for the life of the process.
type MemoryCheckpoints struct {
	mu     sync.Mutex
	blocks map[string]uint64
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{blocks: make(map[string]uint64)}
}

func (c *MemoryCheckpoints) Load(_ context.Context, address string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.blocks[address]
	return block, ok, nil
}

func (c *MemoryCheckpoints) Save(_ context.Context, address string, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[address] = block
	return nil
}
