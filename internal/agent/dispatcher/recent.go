package dispatcher

import (
	"time"

	"github.com/karlseguin/ccache"

	"github.com/onesibox/onesibox/internal/agent/core"
)

// DefaultRecentTTL is how long the outcome of a command is remembered.
const DefaultRecentTTL = 10 * time.Minute

// recentAcks remembers the acknowledgment of recently executed commands so
// that a redelivered command is answered without running its handler again.
type recentAcks struct {
	cache *ccache.Cache
	ttl   time.Duration
}

func newRecentAcks(ttl time.Duration) *recentAcks {
	return &recentAcks{
		cache: ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
		ttl:   ttl,
	}
}

// Last returns the acknowledgment recorded for id, if it has not expired.
func (r *recentAcks) Last(id string) (core.Ack, bool) {
	if id == "" {
		return core.Ack{}, false
	}
	item := r.cache.Get(id)
	if item == nil || item.Expired() {
		return core.Ack{}, false
	}
	ack, ok := item.Value().(core.Ack)
	return ack, ok
}

// Record stores ack under its command id.
func (r *recentAcks) Record(ack core.Ack) {
	if ack.CommandID == "" {
		return
	}
	r.cache.Set(ack.CommandID, ack, r.ttl)
}

func (r *recentAcks) Stop() {
	r.cache.Stop()
}
