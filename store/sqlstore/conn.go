package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/store"
)

type conn struct {
	store    *Store
	conn     *sql.Conn
	released atomic.Bool
}

func (c *conn) check() error {
	if c.released.Load() {
		return store.ErrReleased
	}
	return nil
}

func (c *conn) Enumerate(ctx context.Context, class string) ([]store.Entry, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	rows, err := c.conn.QueryContext(ctx,
		c.store.dialect.rebind("SELECT entry_key, value FROM kv_entries WHERE class_name = ? ORDER BY seq"), class)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", class, err)
	}
	defer rows.Close()

	entries := []store.Entry{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", class, key, err)
		}
		entries = append(entries, store.Entry{Key: key, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", class, err)
	}
	return entries, nil
}

func (c *conn) Get(ctx context.Context, class, key string) (store.Record, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	var raw []byte
	err := c.conn.QueryRowContext(ctx,
		c.store.dialect.rebind("SELECT value FROM kv_entries WHERE class_name = ? AND entry_key = ?"), class, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, class, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", class, key, err)
	}
	return decode(raw)
}

func (c *conn) Put(ctx context.Context, class, key string, rec store.Record) error {
	if err := c.check(); err != nil {
		return err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", class, key, err)
	}
	if _, err := c.conn.ExecContext(ctx, c.store.dialect.putStmt(), class, key, c.store.nextSeq(), string(raw)); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", class, key, err)
	}
	return nil
}

func (c *conn) Delete(ctx context.Context, class, key string) error {
	if err := c.check(); err != nil {
		return err
	}

	res, err := c.conn.ExecContext(ctx,
		c.store.dialect.rebind("DELETE FROM kv_entries WHERE class_name = ? AND entry_key = ?"), class, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", class, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", class, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, class, key)
	}
	return nil
}

func (c *conn) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return store.ErrReleased
	}
	return c.conn.Close()
}

func decode(raw []byte) (store.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return store.Record(convert.NormalizeJSON(m).(map[string]any)), nil
}
