package echo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

var timerPool = &TimerPool{m: newPoolMetrics()}
var replyPool = &ReplyPool{m: newPoolMetrics()}

func StartPoolMetrics() {
	timerPool.m.start()
	replyPool.m.start()
}

func ReleasePoolMetrics() {
	timerPool.m.release()
	replyPool.m.release()
}

func JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"timerPool\" = %s, \"replyPool\" = %s}",
		timerPool.m.metricsString(),
		replyPool.m.metricsString(),
	)
}

type TimerPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *TimerPool) acquire(timeout time.Duration) *time.Timer {
	v := p.sp.Get()
	if v == nil {
		p.m.acquired(false)
		return time.NewTimer(timeout)
	}
	p.m.acquired(true)
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func (p *TimerPool) release(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	p.sp.Put(t)
	p.m.released()
}

// ReplyPool hands out buffers for reply messages. bytebufferpool calibrates
// the default buffer size from what gets put back, so reuse is tracked by
// counting the buffers sitting idle in the pool.
type ReplyPool struct {
	bp   bytebufferpool.Pool
	idle int64
	m    *PoolMetrics
}

func (p *ReplyPool) acquire() *bytebufferpool.ByteBuffer {
	buf := p.bp.Get()
	p.m.acquired(p.takeIdle())
	return buf
}

func (p *ReplyPool) release(buf *bytebufferpool.ByteBuffer) {
	p.bp.Put(buf)
	atomic.AddInt64(&p.idle, 1)
	p.m.released()
}

func (p *ReplyPool) takeIdle() bool {
	for {
		n := atomic.LoadInt64(&p.idle)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.idle, n, n-1) {
			return true
		}
	}
}
