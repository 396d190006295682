package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window 是按客户端记录时间戳的内存滑动窗口。
//
// 约束：
// - 每次访问先剔除窗口外的时间戳，再判断是否已满
// - 被拒绝的请求不计入窗口
type Window struct {
	limit  int
	period time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewWindow(limit int, period time.Duration) *Window {
	return &Window{limit: limit, period: period, hits: make(map[string][]time.Time), now: time.Now}
}

func (w *Window) Allow(_ context.Context, clientID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	ts := prune(w.hits[clientID], now.Add(-w.period))
	if len(ts) >= w.limit {
		w.hits[clientID] = ts
		return false, nil
	}
	w.hits[clientID] = append(ts, now)
	return true, nil
}

// Sweep 删除窗口内已无记录的客户端，返回删除个数。
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.period)
	n := 0
	for id, ts := range w.hits {
		ts = prune(ts, cutoff)
		if len(ts) == 0 {
			delete(w.hits, id)
			n++
			continue
		}
		w.hits[id] = ts
	}
	return n
}

// prune 保留严格晚于 cutoff 的时间戳（ts 按时间递增）。
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
