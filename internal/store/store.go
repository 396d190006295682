package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/infra/fsx"
)

const partPrefix = ".part-"

// MinPartialAge 是清理半成品的最小年龄：更新的 .part-* 可能正被另一个进程写入。
const MinPartialAge = 24 * time.Hour

var (
	// 文件名只允许保守字符集：读路径也不信任调用方输入。
	nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}\.[a-z0-9]{1,8}$`)
	extRE  = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

// Index 是存储之外的旁路记录（例如下载目录）。清理时逐个通知，失败只记日志。
type Index interface {
	Forget(ctx context.Context, filename string) error
}

// Store 管理存储根目录下的媒体文件。
//
// 约束：
// - 写路径的文件名只由 Store 生成（uuid），从不使用调用方提供的名字
// - 根目录是扁平的：一个文件一个产物，没有子目录
// - 半成品以 ".part-*" 隐藏文件存在，Commit 时在同目录 rename 成最终名
type Store struct {
	Root   string
	Index  Index
	Logger *slog.Logger

	now     func() time.Time
	newName func() string
}

// New 创建（必要时建立目录）一个以 root 为根的 Store。
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("store: root 不能为空")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		Root:    abs,
		now:     time.Now,
		newName: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}, nil
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// WriteHandle 是一个已分配但尚未提交的存储槽位。
// 要么 Commit，要么 Abort；两者都只生效一次。
type WriteHandle struct {
	f    *os.File
	ext  string
	n    int64
	done bool
}

func (h *WriteHandle) Write(p []byte) (int, error) {
	if h.done {
		return 0, os.ErrClosed
	}
	n, err := h.f.Write(p)
	h.n += int64(n)
	return n, err
}

// Size 返回已写入的字节数。
func (h *WriteHandle) Size() int64 { return h.n }

// Abort 丢弃半成品（关闭并删除临时文件）。重复调用是安全的。
func (h *WriteHandle) Abort() error {
	if h.done {
		return nil
	}
	h.done = true
	_ = h.f.Close()
	if err := os.Remove(h.f.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Allocate 在根目录下分配一个新的写入槽位；ext 形如 ".mp4"。
func (s *Store) Allocate(ext string) (*WriteHandle, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !extRE.MatchString(ext) {
		return nil, fmt.Errorf("store: 非法扩展名 %q", ext)
	}
	f, err := os.CreateTemp(s.Root, partPrefix+"*")
	if err != nil {
		return nil, err
	}
	return &WriteHandle{f: f, ext: ext}, nil
}

// Commit 把槽位固化为最终文件并返回 StoredArtifact。
// 失败时槽位已被清理，调用方无需再 Abort。
func (s *Store) Commit(h *WriteHandle) (domain.StoredArtifact, error) {
	if h == nil || h.done {
		return domain.StoredArtifact{}, errors.New("store: 槽位已关闭")
	}
	h.done = true

	name := s.newName() + h.ext
	if err := fsx.CommitFile(h.f, filepath.Join(s.Root, name)); err != nil {
		return domain.StoredArtifact{}, err
	}
	return domain.StoredArtifact{
		Filename:  name,
		ByteSize:  uint64(h.n),
		CreatedAt: s.now().UTC(),
	}, nil
}

// ReadHandle 是一个已打开的产物；调用方负责 Close。
type ReadHandle struct {
	*os.File
	Artifact domain.StoredArtifact
}

// Open 打开已提交的产物。名字非法、越界或不存在都返回 not_found。
func (s *Store) Open(filename string) (*ReadHandle, error) {
	path, ok := s.pathFor(filename)
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "文件不存在：%q", filename)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Errorf(domain.KindNotFound, "文件不存在：%q", filename)
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, domain.Errorf(domain.KindNotFound, "文件不存在：%q", filename)
	}
	return &ReadHandle{
		File: f,
		Artifact: domain.StoredArtifact{
			Filename:  filename,
			ByteSize:  uint64(fi.Size()),
			CreatedAt: fi.ModTime().UTC(),
		},
	}, nil
}

// List 返回所有已提交的产物（按创建时间升序）。
func (s *Store) List() ([]domain.StoredArtifact, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StoredArtifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !nameRE.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.StoredArtifact{
			Filename:  e.Name(),
			ByteSize:  uint64(fi.Size()),
			CreatedAt: fi.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PurgeOlderThan 删除修改时间早于 now-age 的产物与遗留半成品，返回删除的产物数量。
// 半成品的年龄门槛不低于 MinPartialAge，age 更小时也不动它们。
//
// 单个文件失败只记日志并跳过，不中断整次清理；ctx 取消时返回已完成的数量。
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return 0, err
	}
	now := s.now()
	cutoff := now.Add(-age)
	partCutoff := now.Add(-max(age, MinPartialAge))
	log := s.logger().With("component", "store")

	purged := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		partial := strings.HasPrefix(name, partPrefix)
		if !partial && !nameRE.MatchString(name) {
			continue
		}
		limit := cutoff
		if partial {
			limit = partCutoff
		}
		fi, err := e.Info()
		if err != nil || !fi.ModTime().Before(limit) {
			continue
		}

		if err := os.Remove(filepath.Join(s.Root, name)); err != nil && !os.IsNotExist(err) {
			log.Warn("删除过期文件失败", "file", name, "error", err)
			continue
		}
		if partial {
			log.Info("清理遗留半成品", "file", name)
			continue
		}
		if s.Index != nil {
			if err := s.Index.Forget(ctx, name); err != nil {
				log.Warn("删除目录记录失败", "file", name, "error", err)
			}
		}
		purged++
	}
	return purged, nil
}

func (s *Store) pathFor(filename string) (string, bool) {
	if !nameRE.MatchString(filename) {
		return "", false
	}
	return fsx.Child(s.Root, filename)
}
