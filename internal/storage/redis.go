package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "forumsign/pkg/logx"
)

// redisStore maps namespaces onto key prefixes:
//   - <prefix>kv:<ns>:<key>   plain string values
//   - <prefix>dedup:<key>     expiry in unix milli, with a matching TTL
//   - <prefix>audit           capped list of JSON entries
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

const auditCap = 10000

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "forumsign:"
	}
	return newRedisStore(rdb, prefix, log), nil
}

func newRedisStore(rdb *redis.Client, prefix string, log logx.Logger) *redisStore {
	return &redisStore{rdb: rdb, prefix: prefix, log: log}
}

func (s *redisStore) kvKey(ns, key string) string { return s.prefix + "kv:" + ns + ":" + key }

func (s *redisStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, s.kvKey(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *redisStore) Put(ctx context.Context, ns, key string, val []byte) error {
	return s.rdb.Set(ctx, s.kvKey(ns, key), val, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, ns, key string) error {
	return s.rdb.Del(ctx, s.kvKey(ns, key)).Err()
}

func (s *redisStore) Keys(ctx context.Context, ns string) ([]string, error) {
	match := s.kvKey(ns, "*")
	trim := s.kvKey(ns, "")
	var out []string
	iter := s.rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), trim))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := s.prefix + "audit"
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, auditCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	ttl := time.Until(until)
	if key == "" || ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.prefix+"dedup:"+key, until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	v, err := s.rdb.Get(ctx, s.prefix+"dedup:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
