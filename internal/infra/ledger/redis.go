package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis 把完成记录放在一个 hash 里：key=bbthumb:ledger:<scope>，field=输出文件名。
// 多台机器往同一个共享目录写时用它代替文件 ledger。
type Redis struct {
	rdb      *redis.Client
	hash     string
	readOnly bool
}

// RedisOptions 描述 Redis 连接。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis 建立连接并 Ping。scope 是输出目录的绝对路径，与文件账本的作用域一致。
func OpenRedis(ctx context.Context, opt RedisOptions, scope string, readOnly bool) (*Redis, error) {
	if strings.TrimSpace(opt.Addr) == "" {
		return nil, fmt.Errorf("redis addr 不能为空")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis 连接失败：%w", err)
	}
	return NewRedis(rdb, scope, readOnly), nil
}

// NewRedis 用已有连接构造 ledger。
func NewRedis(rdb *redis.Client, scope string, readOnly bool) *Redis {
	return &Redis{rdb: rdb, hash: "bbthumb:ledger:" + strings.TrimSpace(scope), readOnly: readOnly}
}

func (r *Redis) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	s, err := r.rdb.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Entry{}, false, fmt.Errorf("ledger 记录解析失败：%s：%w", key, err)
	}
	return e, true, nil
}

func (r *Redis) Mark(ctx context.Context, key string, e Entry) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("ledger key 不能为空")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.hash, key, string(b)).Err()
}

func (r *Redis) Flush(ctx context.Context) error { return nil }

func (r *Redis) Close() error { return r.rdb.Close() }
