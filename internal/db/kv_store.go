package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Area names a storage area. Local holds per-device state (the session),
// Sync holds user settings and usage that follow the user.
type Area string

const (
	AreaLocal Area = "local"
	AreaSync  Area = "sync"
)

// KVStore persists JSON values by (area, key)
type KVStore struct {
	db *sqlx.DB
}

type kvRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// NewKVStore creates a key/value store from a base store
func NewKVStore(store *Store) *KVStore {
	if store == nil {
		return nil
	}
	return &KVStore{db: sqlx.NewDb(store.DB(), "sqlite")}
}

// Get decodes the value stored under (area, key) into dst. It reports false
// when nothing is stored.
func (kv *KVStore) Get(ctx context.Context, area Area, key string, dst any) (bool, error) {
	if kv == nil || kv.db == nil {
		return false, fmt.Errorf("kv store not initialized")
	}
	var row kvRow
	err := kv.db.GetContext(ctx, &row, `SELECT key, value, updated_at FROM kv WHERE area=? AND key=?`, string(area), key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", area, key, err)
	}
	if err := json.Unmarshal([]byte(row.Value), dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", area, key, err)
	}
	return true, nil
}

// Set upserts value under (area, key) as a single statement
func (kv *KVStore) Set(ctx context.Context, area Area, key string, value any) error {
	if kv == nil || kv.db == nil {
		return fmt.Errorf("kv store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", area, key, err)
	}
	_, err = kv.db.ExecContext(ctx, `INSERT INTO kv(area, key, value, updated_at)
VALUES(?,?,?,?)
ON CONFLICT(area, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;
`, string(area), key, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", area, key, err)
	}
	return nil
}

// Remove deletes the given keys from an area in one transaction
func (kv *KVStore) Remove(ctx context.Context, area Area, keys ...string) error {
	if kv == nil || kv.db == nil {
		return fmt.Errorf("kv store not initialized")
	}
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM kv WHERE area=? AND key IN (?)`, string(area), keys)
	if err != nil {
		return err
	}
	if _, err := kv.db.ExecContext(ctx, kv.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("remove from %s: %w", area, err)
	}
	return nil
}

// Keys lists the keys stored in an area
func (kv *KVStore) Keys(ctx context.Context, area Area) ([]string, error) {
	if kv == nil || kv.db == nil {
		return nil, fmt.Errorf("kv store not initialized")
	}
	var keys []string
	if err := kv.db.SelectContext(ctx, &keys, `SELECT key FROM kv WHERE area=? ORDER BY key`, string(area)); err != nil {
		return nil, err
	}
	return keys, nil
}
