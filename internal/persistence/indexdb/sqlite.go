package indexdb

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

	_ "modernc.org/sqlite"

	"adgobye.dev/internal/content"
)

const schemaVersion = "1"

var ErrClosed = errors.New("indexdb: closed")

// SQLiteIndex is the persisted content index. Readers see either the state
// before or after a whole Batch; mutations always go through one transaction.
type SQLiteIndex struct {
	db *sql.DB

	once   sync.Once
	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contents (
			id TEXT PRIMARY KEY,
			type INTEGER NOT NULL,
			stable_name TEXT NOT NULL UNIQUE,
			version INTEGER NOT NULL,
			path TEXT NOT NULL,
			patched_by TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contents_type ON contents(type);`,
		`CREATE TABLE IF NOT EXISTS network_blocklists (
			url TEXT PRIMARY KEY,
			contents TEXT NOT NULL,
			etag TEXT,
			updated_at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.db.Close()
	})
	return err
}

const contentColumns = `id,type,stable_name,version,path,patched_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(r rowScanner) (content.Content, error) {
	var (
		c       content.Content
		typ     int
		version int64
		patched string
	)
	if err := r.Scan(&c.ID, &typ, &c.StableName, &version, &c.VersionMeta.Path, &patched); err != nil {
		return content.Content{}, err
	}
	c.Type = content.Type(typ)
	c.VersionMeta.Version = uint32(version)
	if patched != "" {
		if err := json.Unmarshal([]byte(patched), &c.VersionMeta.PatchedBy); err != nil {
			return content.Content{}, fmt.Errorf("content %s: patched_by: %w", c.ID, err)
		}
	}
	return c, nil
}

// All returns every indexed row ordered by stable name.
func (s *SQLiteIndex) All(ctx context.Context) ([]content.Content, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+contentColumns+` FROM contents ORDER BY stable_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []content.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) FindByStableName(ctx context.Context, stableName string) (content.Content, bool, error) {
	return s.findOne(ctx, `SELECT `+contentColumns+` FROM contents WHERE stable_name=?`, stableName)
}

func (s *SQLiteIndex) FindByID(ctx context.Context, id string) (content.Content, bool, error) {
	return s.findOne(ctx, `SELECT `+contentColumns+` FROM contents WHERE id=?`, id)
}

func (s *SQLiteIndex) findOne(ctx context.Context, q string, arg string) (content.Content, bool, error) {
	if s.closed.Load() {
		return content.Content{}, false, ErrClosed
	}
	c, err := scanContent(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return content.Content{}, false, nil
	}
	if err != nil {
		return content.Content{}, false, err
	}
	return c, true, nil
}

// Remove deletes one row immediately.
func (s *SQLiteIndex) Remove(ctx context.Context, id string) error {
	b := NewBatch()
	b.Remove(id)
	_, err := s.Apply(ctx, b)
	return err
}

// Apply commits every staged mutation in b in one transaction. Removes are
// applied before upserts. A stable_name already held by another id is
// replaced by the upserted row.
func (s *SQLiteIndex) Apply(ctx context.Context, b *Batch) (BatchStats, error) {
	if s.closed.Load() {
		return BatchStats{}, ErrClosed
	}
	removes, puts, stats := b.drain()
	if len(removes) == 0 && len(puts) == 0 {
		return stats, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchStats{}, err
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM contents WHERE id=?`)
	if err != nil {
		return BatchStats{}, err
	}
	defer del.Close()
	for _, id := range removes {
		if _, err := del.ExecContext(ctx, id); err != nil {
			return BatchStats{}, fmt.Errorf("remove %s: %w", id, err)
		}
	}

	put, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO contents(`+contentColumns+`,updated_at) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return BatchStats{}, err
	}
	defer put.Close()
	for _, c := range puts {
		patched := c.VersionMeta.PatchedBy
		if patched == nil {
			patched = content.PatchedBy{}
		}
		pb, err := json.Marshal(patched)
		if err != nil {
			return BatchStats{}, err
		}
		if _, err := put.ExecContext(ctx,
			c.ID,
			int(c.Type),
			c.StableName,
			int64(c.VersionMeta.Version),
			c.VersionMeta.Path,
			string(pb),
			now,
		); err != nil {
			return BatchStats{}, fmt.Errorf("upsert %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return BatchStats{}, err
	}
	return stats, nil
}

// NetworkBlocklist is a cached remote rule document.
type NetworkBlocklist struct {
	URL       string
	Contents  string
	ETag      string
	UpdatedAt time.Time
}

func (s *SQLiteIndex) NetworkBlocklists(ctx context.Context) ([]NetworkBlocklist, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT url,contents,COALESCE(etag,''),updated_at FROM network_blocklists ORDER BY url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NetworkBlocklist
	for rows.Next() {
		var (
			nb NetworkBlocklist
			ts string
		)
		if err := rows.Scan(&nb.URL, &nb.Contents, &nb.ETag, &ts); err != nil {
			return nil, err
		}
		nb.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, nb)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) PutNetworkBlocklist(ctx context.Context, nb NetworkBlocklist) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if nb.URL == "" {
		return fmt.Errorf("empty blocklist url")
	}
	var etag any
	if nb.ETag != "" {
		etag = nb.ETag
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO network_blocklists(url,contents,etag,updated_at) VALUES(?,?,?,?)`,
		nb.URL, nb.Contents, etag, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) DeleteNetworkBlocklist(ctx context.Context, url string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM network_blocklists WHERE url=?`, url)
	return err
}
