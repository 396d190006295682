package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// assertTenPerHour 覆盖：前 10 次放行、第 11 次拒绝、窗口过后恢复、客户端之间互不影响。
func assertTenPerHour(t *testing.T, l Limiter, c *clock) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if !ok {
			t.Fatalf("第 %d 次应被放行", i)
		}
		c.advance(time.Minute)
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ok {
		t.Fatalf("第 11 次应被拒绝")
	}
	if ok, _ := l.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatalf("其它客户端不应受影响")
	}

	c.advance(time.Hour)
	if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatalf("窗口过后应恢复")
	}
}

func TestWindow_TenPerHour(t *testing.T) {
	c := newClock()
	w := NewWindow(10, time.Hour)
	w.now = c.now
	assertTenPerHour(t, w, c)
}

func TestWindow_SlidesRatherThanResets(t *testing.T) {
	c := newClock()
	w := NewWindow(2, time.Hour)
	w.now = c.now
	ctx := context.Background()

	w.Allow(ctx, "a")
	c.advance(40 * time.Minute)
	w.Allow(ctx, "a")
	c.advance(10 * time.Minute)
	if ok, _ := w.Allow(ctx, "a"); ok {
		t.Fatalf("窗口内已有 2 次，应拒绝")
	}
	c.advance(11 * time.Minute)
	if ok, _ := w.Allow(ctx, "a"); !ok {
		t.Fatalf("最早的一次滑出窗口后应放行")
	}
}

func TestWindow_Sweep(t *testing.T) {
	c := newClock()
	w := NewWindow(10, time.Hour)
	w.now = c.now
	w.Allow(context.Background(), "a")
	w.Allow(context.Background(), "b")
	if n := w.Sweep(); n != 0 {
		t.Fatalf("窗口内的客户端不应被清理，实际 %d", n)
	}
	c.advance(2 * time.Hour)
	if n := w.Sweep(); n != 2 {
		t.Fatalf("期望清理 2 个客户端，实际 %d", n)
	}
}

func TestBucket_TenPerHour(t *testing.T) {
	c := newClock()
	b := NewBucket(10, time.Hour)
	b.now = c.now
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if ok, _ := b.Allow(ctx, "a"); !ok {
			t.Fatalf("第 %d 次应被放行", i)
		}
	}
	if ok, _ := b.Allow(ctx, "a"); ok {
		t.Fatalf("第 11 次应被拒绝")
	}
	c.advance(6 * time.Minute)
	if ok, _ := b.Allow(ctx, "a"); !ok {
		t.Fatalf("补充一个令牌后应放行")
	}
	c.advance(2 * time.Hour)
	if n := b.Sweep(); n != 1 {
		t.Fatalf("期望清理 1 个客户端，实际 %d", n)
	}
}

func TestRedis_TenPerHour(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := newClock()
	r := NewRedisWithClient(client, 10, time.Hour)
	r.now = c.now
	assertTenPerHour(t, r, c)

	if !mr.Exists(defaultRedisPrefix + "1.2.3.4") {
		t.Fatalf("期望 redis 中存在计数键")
	}
	if ttl := mr.TTL(defaultRedisPrefix + "1.2.3.4"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("计数键应带过期时间，实际 %v", ttl)
	}
}

func TestRedis_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := NewRedis("redis://"+mr.Addr(), 10, time.Hour)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer l.Close()
	mr.Close()

	if _, err := l.Allow(context.Background(), "a"); err == nil {
		t.Fatalf("redis 不可用时应返回错误")
	}
}

func TestNew(t *testing.T) {
	if l, err := New(Config{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	} else if _, ok := l.(*Window); !ok {
		t.Fatalf("默认策略应为 window，实际 %T", l)
	}
	if l, err := New(Config{Strategy: "Bucket", Requests: 5, Window: time.Minute}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	} else if _, ok := l.(*Bucket); !ok {
		t.Fatalf("期望 *Bucket，实际 %T", l)
	}
	if _, err := New(Config{Strategy: "redis"}); err == nil {
		t.Fatalf("redis 策略缺少 URL 应报错")
	}
	if _, err := New(Config{Strategy: "leaky"}); err == nil {
		t.Fatalf("未知策略应报错")
	}
}
