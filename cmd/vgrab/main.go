package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-Robertt/vgrab/internal/app"
	"github.com/John-Robertt/vgrab/internal/config"
	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/httpapi"
	"github.com/John-Robertt/vgrab/internal/ratelimit"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "serve":
		code = serveCmd(args[1:])
	case "fetch":
		code = fetchCmd(args[1:])
	case "purge":
		code = purgeCmd(args[1:])
	case "list":
		code = listCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

// load 读取有效配置并初始化日志；失败时已向 stderr 输出原因。
func load(cli config.CLIArgs) (config.EffectiveConfig, *slog.Logger, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, nil, false
	}
	eff, err := config.LoadEffective(cwd, cli, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误（%s）：%v\n", config.Code(err), err)
		return config.EffectiveConfig{}, nil, false
	}
	logger := newLogger(os.Stderr, eff.Log)
	slog.SetDefault(logger)
	return eff, logger, true
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func serveCmd(args []string) int {
	if wantsHelp(args) {
		printServeUsage()
		return 0
	}
	sa, err := parseServeArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printServeUsage()
		return 2
	}
	eff, logger, ok := load(config.CLIArgs{ConfigPath: sa.Config, Addr: sa.Addr})
	if !ok {
		return 1
	}

	rt, err := app.Build(eff, logger)
	if err != nil {
		logger.Error("初始化失败", "error", err)
		return 1
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.Sweeper.Run(ctx)
	go ratelimit.RunSweeper(ctx, rt.Limiter, eff.RateLimit.Window)

	logger.Info("vgrab 启动",
		"storage_dir", eff.StorageDir,
		"catalog", eff.CatalogPath,
		"backends", eff.Backends,
		"rate_limit", eff.RateLimit.Strategy,
	)
	if err := httpapi.New(rt, logger).Run(ctx, eff.Addr); err != nil {
		logger.Error("HTTP 服务异常退出", "error", err)
		return 1
	}
	return 0
}

func fetchCmd(args []string) int {
	if wantsHelp(args) {
		printFetchUsage()
		return 0
	}
	fa, err := parseFetchArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printFetchUsage()
		return 2
	}
	eff, logger, ok := load(config.CLIArgs{ConfigPath: fa.Config})
	if !ok {
		return 1
	}
	rt, err := app.Build(eff, logger)
	if err != nil {
		logger.Error("初始化失败", "error", err)
		return 1
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	art, err := rt.Service.Process(ctx, app.ProcessRequest{
		URL:             fa.URL,
		Quality:         fa.Quality,
		RemoveWatermark: fa.NoWatermark,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "下载失败（%s）：%v\n", domain.KindOf(err), err)
		return 1
	}
	emitArtifact(art, eff.StorageDir)
	return 0
}

type fetchResult struct {
	domain.StoredArtifact
	DownloadPath string `json:"download_path"`
	StorageDir   string `json:"storage_dir"`
}

func emitArtifact(art domain.StoredArtifact, storageDir string) {
	// stdout 只输出一个 JSON；人类可读的摘要走 stderr。
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(fetchResult{StoredArtifact: art, DownloadPath: art.DownloadPath(), StorageDir: storageDir})
	if isTTY(os.Stderr) {
		fmt.Fprintf(os.Stderr, "完成：%s（%d 字节）\n", art.Filename, art.ByteSize)
	}
}

func purgeCmd(args []string) int {
	if wantsHelp(args) {
		printPurgeUsage()
		return 0
	}
	pa, err := parsePurgeArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printPurgeUsage()
		return 2
	}
	eff, logger, ok := load(config.CLIArgs{ConfigPath: pa.Config})
	if !ok {
		return 1
	}
	rt, err := app.Build(eff, logger)
	if err != nil {
		logger.Error("初始化失败", "error", err)
		return 1
	}
	defer rt.Close()

	sw := *rt.Sweeper
	if pa.OlderThanSet {
		sw.MaxAge = pa.OlderThan
	}
	n, err := sw.SweepOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "清理失败：%v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "已删除 %d 个早于 %s 的文件\n", n, sw.MaxAge)
	return 0
}

func listCmd(args []string) int {
	if wantsHelp(args) {
		printListUsage()
		return 0
	}
	la, err := parseListArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printListUsage()
		return 2
	}
	eff, logger, ok := load(config.CLIArgs{ConfigPath: la.Config})
	if !ok {
		return 1
	}
	rt, err := app.Build(eff, logger)
	if err != nil {
		logger.Error("初始化失败", "error", err)
		return 1
	}
	defer rt.Close()

	enc := json.NewEncoder(os.Stdout)
	if rt.Catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entries, err := rt.Catalog.List(ctx, la.Limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取下载目录失败：%v\n", err)
			return 1
		}
		for _, e := range entries {
			_ = enc.Encode(e)
		}
		return 0
	}

	arts, err := rt.Store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取存储目录失败：%v\n", err)
		return 1
	}
	for i, a := range arts {
		if la.Limit > 0 && i >= la.Limit {
			break
		}
		_ = enc.Encode(a)
	}
	return 0
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
