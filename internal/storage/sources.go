package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SourceState 规则源最近一次抓取的内容校验和
type SourceState struct {
	URL       string    `json:"url"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
	LastError string    `json:"last_error,omitempty"`
}

// GetSource 读取规则源状态
func (c *Cache) GetSource(ctx context.Context, url string) (SourceState, bool, error) {
	var (
		st        SourceState
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT url, checksum, size, fetched_at, last_error FROM sources WHERE url = ?", url,
	).Scan(&st.URL, &st.Checksum, &st.Size, &fetchedAt, &st.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceState{}, false, nil
	}
	if err != nil {
		return SourceState{}, false, fmt.Errorf("读取规则源状态失败: %w", err)
	}
	st.FetchedAt = time.UnixMilli(fetchedAt)
	return st, true, nil
}

// PutSources 批量写入规则源状态
func (c *Cache) PutSources(ctx context.Context, states []SourceState) error {
	if len(states) == 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO sources (url, checksum, size, fetched_at, last_error)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		fetchedAt := st.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = c.now()
		}
		if _, err := stmt.ExecContext(ctx, st.URL, st.Checksum, st.Size, fetchedAt.UnixMilli(), st.LastError); err != nil {
			return fmt.Errorf("写入规则源状态失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// ListSources 列出所有规则源状态
func (c *Cache) ListSources(ctx context.Context) ([]SourceState, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT url, checksum, size, fetched_at, last_error FROM sources ORDER BY url")
	if err != nil {
		return nil, fmt.Errorf("查询规则源状态失败: %w", err)
	}
	defer rows.Close()

	var out []SourceState
	for rows.Next() {
		var (
			st        SourceState
			fetchedAt int64
		)
		if err := rows.Scan(&st.URL, &st.Checksum, &st.Size, &fetchedAt, &st.LastError); err != nil {
			return nil, err
		}
		st.FetchedAt = time.UnixMilli(fetchedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}
