package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/vgrab/internal/domain"
)

type serveArgs struct {
	Config string
	Addr   string
}

type fetchArgs struct {
	Config      string
	URL         string
	Quality     domain.Quality
	NoWatermark bool
}

type purgeArgs struct {
	Config       string
	OlderThan    time.Duration
	OlderThanSet bool
}

type listArgs struct {
	Config string
	Limit  int
}

// value 读取 "--name v" 或 "--name=v" 形式的参数值；匹配时推进 *i。
func value(args []string, i *int, name string) (string, bool, error) {
	a := args[*i]
	if a == name {
		if *i+1 >= len(args) {
			return "", true, fmt.Errorf("%s 需要一个值", name)
		}
		*i++
		return args[*i], true, nil
	}
	if strings.HasPrefix(a, name+"=") {
		return strings.TrimPrefix(a, name+"="), true, nil
	}
	return "", false, nil
}

func parseServeArgs(args []string) (serveArgs, error) {
	sa := serveArgs{}
	for i := 0; i < len(args); i++ {
		if v, ok, err := value(args, &i, "--config"); ok {
			if err != nil {
				return serveArgs{}, err
			}
			sa.Config = v
			continue
		}
		if v, ok, err := value(args, &i, "--addr"); ok {
			if err != nil {
				return serveArgs{}, err
			}
			if strings.TrimSpace(v) == "" {
				return serveArgs{}, fmt.Errorf("--addr 不能为空")
			}
			sa.Addr = v
			continue
		}
		return serveArgs{}, fmt.Errorf("未知参数 %q", args[i])
	}
	return sa, nil
}

func parseFetchArgs(args []string) (fetchArgs, error) {
	fa := fetchArgs{Quality: domain.QualityHD}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if v, ok, err := value(args, &i, "--config"); ok {
			if err != nil {
				return fetchArgs{}, err
			}
			fa.Config = v
			continue
		}
		if v, ok, err := value(args, &i, "--quality"); ok {
			if err != nil {
				return fetchArgs{}, err
			}
			q, err := domain.ParseQuality(v)
			if err != nil {
				return fetchArgs{}, err
			}
			fa.Quality = q
			continue
		}
		switch {
		case a == "--no-watermark":
			fa.NoWatermark = true
		case strings.HasPrefix(a, "-"):
			return fetchArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if fa.URL != "" {
				return fetchArgs{}, fmt.Errorf("重复的 url：%q 与 %q", fa.URL, a)
			}
			fa.URL = a
		}
	}
	if fa.URL == "" {
		return fetchArgs{}, fmt.Errorf("缺少 url")
	}
	return fa, nil
}

func parsePurgeArgs(args []string) (purgeArgs, error) {
	pa := purgeArgs{}
	for i := 0; i < len(args); i++ {
		if v, ok, err := value(args, &i, "--config"); ok {
			if err != nil {
				return purgeArgs{}, err
			}
			pa.Config = v
			continue
		}
		if v, ok, err := value(args, &i, "--older-than"); ok {
			if err != nil {
				return purgeArgs{}, err
			}
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				return purgeArgs{}, fmt.Errorf("--older-than 必须是非负时长（例如 24h），实际是 %q", v)
			}
			pa.OlderThan = d
			pa.OlderThanSet = true
			continue
		}
		return purgeArgs{}, fmt.Errorf("未知参数 %q", args[i])
	}
	return pa, nil
}

func parseListArgs(args []string) (listArgs, error) {
	la := listArgs{Limit: 50}
	for i := 0; i < len(args); i++ {
		if v, ok, err := value(args, &i, "--config"); ok {
			if err != nil {
				return listArgs{}, err
			}
			la.Config = v
			continue
		}
		if v, ok, err := value(args, &i, "--limit"); ok {
			if err != nil {
				return listArgs{}, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return listArgs{}, fmt.Errorf("--limit 必须是非负整数，实际是 %q", v)
			}
			la.Limit = n
			continue
		}
		return listArgs{}, fmt.Errorf("未知参数 %q", args[i])
	}
	return la, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if isHelp(a) {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  vgrab serve [--config f] [--addr a]
  vgrab fetch <url> [--quality hd|sd|audio] [--no-watermark] [--config f]
  vgrab purge [--older-than d] [--config f]
  vgrab list [--limit n] [--config f]

命令：
  serve  启动 HTTP 服务
  fetch  下载单个视频并输出产物 JSON
  purge  删除过期文件
  list   列出最近的下载

使用 "vgrab <命令> --help" 查看详细说明。
`)
}

func printServeUsage() {
	fmt.Fprint(os.Stdout, `用法：
  vgrab serve [--config f] [--addr a]

参数：
  --config    配置文件（默认读取当前目录下的 vgrab.yaml，不存在则使用默认值）
  --addr      监听地址（覆盖配置与 VGRAB_ADDR；默认 :8000）
  -h, --help  显示帮助
`)
}

func printFetchUsage() {
	fmt.Fprint(os.Stdout, `用法：
  vgrab fetch <url> [--quality hd|sd|audio] [--no-watermark] [--config f]

参数：
  --quality       清晰度：hd|sd|audio（默认 hd）
  --no-watermark  优先选择无水印版本
  --config        配置文件
  -h, --help      显示帮助
`)
}

func printPurgeUsage() {
	fmt.Fprint(os.Stdout, `用法：
  vgrab purge [--older-than d] [--config f]

参数：
  --older-than  删除早于该时长的文件（例如 24h；默认读取 retention.max_age）；.part-* 至少保留 24h
  --config      配置文件
  -h, --help    显示帮助
`)
}

func printListUsage() {
	fmt.Fprint(os.Stdout, `用法：
  vgrab list [--limit n] [--config f]

参数：
  --limit     最多输出的条数（默认 50；0 表示不限制）
  --config    配置文件
  -h, --help  显示帮助
`)
}
