package chunk

import (
	"sync"
	"time"

	"github.com/danmuck/debugrelay/internal/protocol/event"
)

const DefaultPendingTTL = 2 * time.Minute

type pendingSet struct {
	total     int
	parts     map[int]event.Event
	firstSeen time.Time
}

// Assembler buffers arriving fragments by chunk id until a set is complete.
type Assembler struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	sets map[string]*pendingSet
}

func NewAssembler(ttl time.Duration) *Assembler {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Assembler{
		ttl:  ttl,
		now:  time.Now,
		sets: make(map[string]*pendingSet),
	}
}

// Add buffers one fragment. When the fragment completes its set, the stitched
// event is returned with done=true. A set whose fragments disagree on the
// total is discarded.
func (a *Assembler) Add(frag event.Event) (event.Event, bool, error) {
	info, err := ParseInfo(frag)
	if err != nil {
		return event.Event{}, false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.evictLocked(now)

	set, ok := a.sets[info.ID]
	if !ok {
		set = &pendingSet{
			total:     info.Total,
			parts:     make(map[int]event.Event, info.Total),
			firstSeen: now,
		}
		a.sets[info.ID] = set
	}
	if set.total != info.Total {
		delete(a.sets, info.ID)
		return event.Event{}, false, ErrMalformedChunk
	}
	set.parts[info.Sequence] = frag
	if len(set.parts) < set.total {
		return event.Event{}, false, nil
	}

	delete(a.sets, info.ID)
	fragments := make([]event.Event, 0, len(set.parts))
	for _, p := range set.parts {
		fragments = append(fragments, p)
	}
	out, ok := Stitch(fragments)
	if !ok {
		return event.Event{}, false, ErrMalformedChunk
	}
	return out, true, nil
}

// Pending returns the number of incomplete fragment sets.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets)
}

// Reset drops every buffered fragment.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sets = make(map[string]*pendingSet)
}

func (a *Assembler) evictLocked(now time.Time) {
	for id, set := range a.sets {
		if now.Sub(set.firstSeen) > a.ttl {
			delete(a.sets, id)
		}
	}
}
