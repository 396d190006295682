package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/vgrab/internal/config"
	"github.com/John-Robertt/vgrab/internal/ratelimit"
)

func TestBuild_Defaults(t *testing.T) {
	cwd := t.TempDir()
	eff, err := config.LoadEffective(cwd, config.CLIArgs{}, func(string) string { return "" })
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rt, err := Build(eff, nil)
	if err != nil {
		t.Fatalf("Build 失败：%v", err)
	}
	defer rt.Close()

	if rt.Store.Root != filepath.Join(cwd, "data", "downloads") {
		t.Fatalf("存储目录不符合预期：%q", rt.Store.Root)
	}
	if rt.Catalog == nil || rt.Service.Catalog == nil || rt.Store.Index == nil {
		t.Fatalf("默认应启用下载目录并挂到 Store/Service 上")
	}
	if got := rt.Chain.Names(); len(got) != 3 || got[0] != "feedapi" || got[2] != "webpage" {
		t.Fatalf("后端顺序不符合预期：%v", got)
	}
	if _, ok := rt.Limiter.(*ratelimit.Window); !ok {
		t.Fatalf("默认限流器应为 window，实际 %T", rt.Limiter)
	}
	if _, err := rt.Registry.Gather(); err != nil {
		t.Fatalf("指标收集失败：%v", err)
	}
	if _, err := rt.Sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("清理失败：%v", err)
	}
}

func TestBuild_CatalogDisabled(t *testing.T) {
	cwd := t.TempDir()
	eff, err := config.LoadEffective(cwd, config.CLIArgs{}, func(k string) string {
		if k == "VGRAB_CATALOG_PATH" {
			return "off"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rt, err := Build(eff, nil)
	if err != nil {
		t.Fatalf("Build 失败：%v", err)
	}
	defer rt.Close()
	if rt.Catalog != nil || rt.Service.Catalog != nil {
		t.Fatalf("关闭下载目录后不应有 catalog")
	}
}
