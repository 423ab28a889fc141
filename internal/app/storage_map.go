package app

import (
	"fmt"
	"strings"
	"time"

	"forumsign/internal/config"
	"forumsign/internal/storage"
)

// DefaultStorePath is used when the storage section is omitted.
const DefaultStorePath = "./data/forumsign.json"

// mapStorageConfig resolves the storage section. The bool is false for
// driver "none": history then lives in memory for the process lifetime.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: DefaultStorePath}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = DefaultStorePath
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "none":
		return storage.Config{Driver: "memory"}, false, nil
	case "memory":
		return storage.Config{Driver: "memory"}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "redis":
		addr := strings.TrimSpace(sc.Redis.Addr)
		if addr == "" {
			return storage.Config{}, false, fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
		}
		if sc.Redis.DB < 0 {
			return storage.Config{}, false, fmt.Errorf("storage.redis.db must be >= 0")
		}
		return storage.Config{Driver: "redis", Redis: storage.RedisConfig{
			Addr:     addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   strings.TrimSpace(sc.Redis.Prefix),
		}}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
