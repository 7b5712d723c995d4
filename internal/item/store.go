// Package item holds the feed items whose thumbnails are cached. Items live in
// a SQLite database together with the persisted icon cache fields; a Record
// wraps one row with the read/change scopes the icon cache relies on, and the
// Catalog keeps the in-memory set of records.
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.

	"github.com/any-hub/iconcache/internal/iconcache"
)

// Data 是条目的业务字段，(Feed, GUID) 唯一标识一条记录。
type Data struct {
	Feed         string    `json:"feed"`
	GUID         string    `json:"guid"`
	Title        string    `json:"title"`
	Link         string    `json:"link"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	Published    time.Time `json:"published,omitempty"`
}

// Row 是从数据库读出的一条完整记录。
type Row struct {
	ID   int64
	Data Data
	Icon iconcache.State
}

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("item not found")

// Store 封装 SQLite 连接。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库文件，启用 WAL 并限制为单连接。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	return &Store{db: db}, nil
}

// Init 创建表结构，可重复调用。
func (s *Store) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed TEXT NOT NULL,
	guid TEXT NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	thumbnail_url TEXT,
	published_at DATETIME,
	created_at DATETIME NOT NULL,
	icon_etag TEXT,
	icon_modified TEXT,
	icon_path TEXT,
	icon_source_url TEXT,
	UNIQUE(feed, guid)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Upsert 插入或更新条目的业务字段并返回行 ID；图标字段保持不变。
func (s *Store) Upsert(ctx context.Context, d Data) (int64, error) {
	if strings.TrimSpace(d.Feed) == "" || strings.TrimSpace(d.GUID) == "" {
		return 0, errors.New("feed and guid required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO items (feed, guid, title, link, thumbnail_url, published_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(feed, guid) DO UPDATE SET
	title = excluded.title,
	link = excluded.link,
	thumbnail_url = excluded.thumbnail_url,
	published_at = excluded.published_at
`, d.Feed, d.GUID, d.Title, d.Link, nullString(d.ThumbnailURL), nullTime(d.Published), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("upsert item row: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM items WHERE feed = ? AND guid = ?", d.Feed, d.GUID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup item id: %w", err)
	}
	return id, nil
}

// SaveIcon 持久化图标缓存字段。
func (s *Store) SaveIcon(ctx context.Context, id int64, st iconcache.State) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE items SET icon_etag = ?, icon_modified = ?, icon_path = ?, icon_source_url = ?
WHERE id = ?
`, nullString(st.ETag), nullString(st.Modified), nullString(st.LocalPath), nullString(st.SourceURL), id)
	if err != nil {
		return fmt.Errorf("save icon state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List 按 ID 顺序返回全部记录。
func (s *Store) List(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, feed, guid, title, link, thumbnail_url, published_at,
	icon_etag, icon_modified, icon_path, icon_source_url
FROM items ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row                            Row
			thumb, etag, modified, path, u sql.NullString
			published                      sql.NullTime
		)
		if err := rows.Scan(&row.ID, &row.Data.Feed, &row.Data.GUID, &row.Data.Title, &row.Data.Link,
			&thumb, &published, &etag, &modified, &path, &u); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		row.Data.ThumbnailURL = thumb.String
		if published.Valid {
			row.Data.Published = published.Time
		}
		row.Icon = iconcache.State{
			ETag:      etag.String,
			Modified:  modified.String,
			LocalPath: path.String,
			SourceURL: u.String,
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return out, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}
