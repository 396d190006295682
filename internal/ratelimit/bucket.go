package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket 是按客户端的令牌桶：容量 = limit，每 period/limit 补充一个令牌。
// 与 Window 相比状态是 O(1) 的，但允许窗口边界上的突发。
type Bucket struct {
	every rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewBucket(limit int, period time.Duration) *Bucket {
	return &Bucket{
		every:    rate.Every(period / time.Duration(limit)),
		burst:    limit,
		idle:     period,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (b *Bucket) Allow(_ context.Context, clientID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	v, ok := b.visitors[clientID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(b.every, b.burst)}
		b.visitors[clientID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Sweep 删除超过一个周期未出现的客户端（此时其令牌桶必然已满，删除不改变行为）。
func (b *Bucket) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	n := 0
	for id, v := range b.visitors {
		if now.Sub(v.lastSeen) > b.idle {
			delete(b.visitors, id)
			n++
		}
	}
	return n
}
