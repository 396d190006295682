// Package fsx 提供存储目录需要的两个文件系统原语：不覆盖的原子发布与目录内路径解析。
package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 测试替换它们来模拟 EXDEV 与不支持硬链接的文件系统。
var (
	linkFunc   = os.Link
	renameFunc = os.Rename
)

// ExistsError 表示发布目标已存在。发布从不覆盖已有文件。
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("目标文件已存在：%q", e.Path)
}

func IsExists(err error) bool {
	var e *ExistsError
	return errors.As(err, &e)
}

// CrossDeviceError 表示临时文件与目标不在同一文件系统（EXDEV）。
// 半成品槽位总是建在存储根目录内，出现它说明根目录下挂载了别的卷；不做 copy+delete。
type CrossDeviceError struct {
	Tmp string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨文件系统发布失败（EXDEV）：%q -> %q：%v", e.Tmp, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// CommitFile 把写完的临时文件 f 发布为 dst。
//
// 约束：
// - 先 fsync 再发布：dst 一旦可见，内容就是完整的
// - 优先用硬链接发布（目标已存在时原子失败）；文件系统不支持硬链接时退化为 Lstat + rename
// - 任一步失败都删除临时文件；成功后临时文件同样不复存在
// - 目录 fsync 为 best-effort
func CommitFile(f *os.File, dst string) (err error) {
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := publish(tmp, dst); err != nil {
		return err
	}
	syncDir(filepath.Dir(dst))
	return nil
}

func publish(tmp, dst string) error {
	err := linkFunc(tmp, dst)
	switch {
	case err == nil:
		_ = os.Remove(tmp)
		return nil
	case os.IsExist(err):
		return &ExistsError{Path: dst}
	case isEXDEV(err):
		return &CrossDeviceError{Tmp: tmp, Dst: dst, Err: err}
	}

	// 硬链接不可用：检查与 rename 之间存在竞争窗口，但文件名由 uuid 生成，实际不会撞名。
	if _, lerr := os.Lstat(dst); lerr == nil {
		return &ExistsError{Path: dst}
	} else if !os.IsNotExist(lerr) {
		return lerr
	}
	if err := renameFunc(tmp, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Tmp: tmp, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// Child 返回 root 下名为 name 的直接子路径。name 必须是单个路径元素，
// 含分隔符、"."、".." 或绝对路径时返回 false。
func Child(root, name string) (string, bool) {
	if name == "" || name == "." || name == ".." || filepath.IsAbs(name) {
		return "", false
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", false
	}
	root = filepath.Clean(root)
	p := filepath.Join(root, name)
	if filepath.Dir(p) != root {
		return "", false
	}
	return p, true
}

func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
