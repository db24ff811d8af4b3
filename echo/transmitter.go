package echo

import (
	"errors"
	"net"
	"sync/atomic"
)

// transmit consumes the handoff queue, writing one reply per item. After a
// failed write it pauses for IdleDelay before consuming again.
func (s *Server) transmit() {
	for {
		for {
			var item handoff
			select {
			case item = <-s.queue:
			case <-s.done:
				return
			}

			if !s.reply(item) {
				break
			}
		}

		if !s.sleep(s.IdleDelay) {
			return
		}
	}
}

// reply writes the reply owed for item and reports whether the write
// succeeded. Items whose connection has already been closed are dropped.
func (s *Server) reply(item handoff) bool {
	sess := item.sess

	if sess.isClosed() {
		atomic.AddUint64(&s.stats.dropped, 1)
		s.Logger.Debugw("dropping reply for closed connection", "conn", sess.gen, "count", item.count)
		return true
	}

	buf := replyPool.acquire()
	defer replyPool.release(buf)

	buf.B = AppendReply(buf.B[:0], item.count)

	n, err := sess.write(buf.B)
	atomic.AddUint64(&s.stats.bytesSent, uint64(n))

	if err != nil {
		atomic.AddUint64(&s.stats.sendFailures, 1)
		if errors.Is(err, net.ErrClosed) {
			s.Logger.Debugw("send raced with close", "conn", sess.gen, "count", item.count, "sent", n)
		} else {
			s.Logger.Errorw("send failed", "conn", sess.gen, "count", item.count, "sent", n, "size", len(buf.B), "err", err)
		}
		return false
	}

	atomic.AddUint64(&s.stats.replied, 1)
	s.Logger.Debugw("send done", "conn", sess.gen, "count", item.count, "bytes", n)

	return true
}
