package echo

import "sync/atomic"

// Stats is a snapshot of the server counters.
type Stats struct {
	Accepted     uint64 // connections accepted
	Received     uint64 // chunks read and queued
	Replied      uint64 // replies written in full
	SendFailures uint64 // replies abandoned on a write error
	Dropped      uint64 // queued items discarded because their connection had closed
	BytesSent    uint64
}

type counters struct {
	accepted     uint64
	received     uint64
	replied      uint64
	sendFailures uint64
	dropped      uint64
	bytesSent    uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:     atomic.LoadUint64(&c.accepted),
		Received:     atomic.LoadUint64(&c.received),
		Replied:      atomic.LoadUint64(&c.replied),
		SendFailures: atomic.LoadUint64(&c.sendFailures),
		Dropped:      atomic.LoadUint64(&c.dropped),
		BytesSent:    atomic.LoadUint64(&c.bytesSent),
	}
}
