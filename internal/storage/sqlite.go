package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache 持久化键值缓存，带 TTL 过期与命中统计。
// 单进程单写者，不做跨进程加锁。
type Cache struct {
	db  *sql.DB
	now func() time.Time

	// SQLite 只允许一个写者，进程内写操作串行
	writeMu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// Option 缓存选项
type Option func(*Cache)

// WithClock 注入时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// CacheStats 缓存统计
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int64 `json:"entries"`
}

// Open 打开（或创建）缓存数据库
func Open(path string, opts ...Option) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("创建缓存目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	// SQLite 只支持单个写连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	return c, nil
}

// initDatabase 建表、建索引并设置 PRAGMA
func (c *Cache) initDatabase() error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",

		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expire_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_cache_expire ON cache_entries(expire_at)",

		`CREATE TABLE IF NOT EXISTS sources (
			url TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			fetched_at INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("执行 %q 失败: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// Get 读取未过期的条目；过期条目按未命中处理
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value    []byte
		expireAt int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT value, expire_at FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.miss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取缓存失败: %w", err)
	}
	if expireAt <= c.now().UnixMilli() {
		c.miss()
		return nil, false, nil
	}
	c.hit()
	return value, true, nil
}

// Set 写入条目，ttl 必须为正
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	now := c.now()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, value, expire_at, created_at) VALUES (?, ?, ?, ?)",
		key, value, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

// Delete 删除条目
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	return err
}

// SweepExpired 删除所有过期条目，返回删除数量
func (c *Cache) SweepExpired(ctx context.Context) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	res, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expire_at <= ?", c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("清理过期缓存失败: %w", err)
	}
	return res.RowsAffected()
}

// Stats 返回命中统计与有效条目数
func (c *Cache) Stats(ctx context.Context) (CacheStats, error) {
	st := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE expire_at > ?", c.now().UnixMilli(),
	).Scan(&st.Entries)
	if err != nil {
		return st, fmt.Errorf("统计缓存失败: %w", err)
	}
	return st, nil
}

func (c *Cache) hit() {
	c.hits.Add(1)
	cacheRequests.WithLabelValues("hit").Inc()
}

func (c *Cache) miss() {
	c.misses.Add(1)
	cacheRequests.WithLabelValues("miss").Inc()
}

// Close 关闭数据库
func (c *Cache) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = c.db.Exec("PRAGMA optimize")
	return c.db.Close()
}

// Verdict 域名存活判定
type Verdict struct {
	Domain    string      `json:"domain"`
	Alive     bool        `json:"alive"`
	CheckedAt time.Time   `json:"checked_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Meta      VerdictMeta `json:"meta"`
}

// VerdictMeta 判定附加信息
type VerdictMeta struct {
	ResolveTimeMs int64  `json:"resolve_time_ms"`
	Source        string `json:"source,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func verdictKey(domainKey string) string { return "verdict|" + domainKey }

// GetVerdict 读取域名判定
func (c *Cache) GetVerdict(ctx context.Context, domainKey string) (Verdict, bool, error) {
	raw, ok, err := c.Get(ctx, verdictKey(domainKey))
	if err != nil || !ok {
		return Verdict{}, false, err
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, false, fmt.Errorf("解析判定缓存失败: %w", err)
	}
	return v, true, nil
}

// DeleteVerdict 删除域名判定
func (c *Cache) DeleteVerdict(ctx context.Context, domainKey string) error {
	return c.Delete(ctx, verdictKey(domainKey))
}

// SetVerdict stores v for ttl. CheckedAt defaults to now and ExpiresAt is
// always CheckedAt+ttl.
func (c *Cache) SetVerdict(ctx context.Context, v Verdict, ttl time.Duration) (Verdict, error) {
	if v.CheckedAt.IsZero() {
		v.CheckedAt = c.now()
	}
	v.ExpiresAt = v.CheckedAt.Add(ttl)
	raw, err := json.Marshal(v)
	if err != nil {
		return v, err
	}
	return v, c.Set(ctx, verdictKey(v.Domain), raw, ttl)
}
