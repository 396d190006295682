package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/vgrab/internal/domain"
)

// Entry 是一次成功下载的记录。
type Entry struct {
	Filename       string         `json:"filename"`
	SourceURL      string         `json:"source_url"`
	CanonicalID    string         `json:"canonical_id,omitempty"`
	Quality        domain.Quality `json:"quality"`
	ByteSize       uint64         `json:"byte_size"`
	DownloadCount  int64          `json:"download_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastDownloaded time.Time      `json:"last_downloaded"` // 零值表示尚未被取走
}

// Catalog 是 sqlite 上的下载目录。它只是旁路记录：文件本身以 Store 为准。
type Catalog struct {
	db *sql.DB
}

// Open 打开（必要时创建）path 处的 sqlite 数据库并完成建表。
func Open(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("catalog: path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite 单写者；串行化连接避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	c, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New 在已打开的 db 上建表。
func New(db *sql.DB) (*Catalog, error) {
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS downloads (
		filename TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		canonical_id TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL,
		byte_size INTEGER NOT NULL,
		download_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_downloaded INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := c.db.ExecContext(context.Background(), query); err != nil {
		return err
	}
	_, err := c.db.ExecContext(context.Background(), `CREATE INDEX IF NOT EXISTS downloads_created_at ON downloads(created_at)`)
	return err
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record 写入一条新记录；同名记录被覆盖。
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Filename) == "" {
		return errors.New("catalog: filename 不能为空")
	}
	query := `
	INSERT OR REPLACE INTO downloads (filename, source_url, canonical_id, quality, byte_size, download_count, created_at, last_downloaded)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := c.db.ExecContext(ctx, query,
		e.Filename, e.SourceURL, e.CanonicalID, string(e.Quality), int64(e.ByteSize),
		e.DownloadCount, millis(e.CreatedAt), millis(e.LastDownloaded))
	return err
}

// Touch 记录一次取走：计数加一并更新最后下载时间。记录不存在返回 not_found。
func (c *Catalog) Touch(ctx context.Context, filename string, at time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET download_count = download_count + 1, last_downloaded = ? WHERE filename = ?`,
		millis(at), filename)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Errorf(domain.KindNotFound, "catalog: 没有记录 %s", filename)
	}
	return nil
}

// Forget 删除记录；不存在视为成功。
func (c *Catalog) Forget(ctx context.Context, filename string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM downloads WHERE filename = ?`, filename)
	return err
}

func (c *Catalog) Get(ctx context.Context, filename string) (Entry, error) {
	row := c.db.QueryRowContext(ctx, `
	SELECT filename, source_url, canonical_id, quality, byte_size, download_count, created_at, last_downloaded
	FROM downloads
	WHERE filename = ?`, filename)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, domain.Errorf(domain.KindNotFound, "catalog: 没有记录 %s", filename)
	}
	return e, err
}

// List 按创建时间倒序返回最多 limit 条记录；limit <= 0 表示不限制。
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: LIMIT -1 即不限制
	}
	rows, err := c.db.QueryContext(ctx, `
	SELECT filename, source_url, canonical_id, quality, byte_size, download_count, created_at, last_downloaded
	FROM downloads
	ORDER BY created_at DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e        Entry
		quality  string
		size     int64
		created  int64
		lastDown int64
	)
	if err := s.Scan(&e.Filename, &e.SourceURL, &e.CanonicalID, &quality, &size, &e.DownloadCount, &created, &lastDown); err != nil {
		return Entry{}, err
	}
	e.Quality = domain.Quality(quality)
	e.ByteSize = uint64(size)
	e.CreatedAt = fromMillis(created)
	e.LastDownloaded = fromMillis(lastDown)
	return e, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
