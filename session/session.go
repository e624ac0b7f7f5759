package session

import (
	"evgateway/utility"
	"time"

	"golang.org/x/time/rate"
)

// Session is one client socket and its authentication state.
type Session struct {
	Id             string
	UserId         string
	SessionToken   string
	ExpiresAt      time.Time
	ConnectedAt    time.Time
	LastActivityAt time.Time

	conn       Conn
	authorized map[string]struct{}
	authTimer  *time.Timer
	limiter    *rate.Limiter
}

func (s *Session) authenticated() bool {
	return s.UserId != ""
}

func newSessionId() string {
	return utility.NewUUID()
}

// Handle addresses a session slot. A handle outlives its session: once the slot
// is freed or reused the generation no longer matches and lookups return nil.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) IsZero() bool {
	return h.generation == 0
}

type slot struct {
	generation uint32
	session    *Session
}

// arena is a slab of session slots with a free list; not safe for concurrent use.
type arena struct {
	slots []slot
	free  []uint32
	count int
}

func (a *arena) insert(s *Session) Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	sl := &a.slots[index]
	sl.generation++
	sl.session = s
	a.count++
	return Handle{index: index, generation: sl.generation}
}

func (a *arena) get(h Handle) *Session {
	if int(h.index) >= len(a.slots) {
		return nil
	}
	sl := a.slots[h.index]
	if sl.generation != h.generation {
		return nil
	}
	return sl.session
}

func (a *arena) remove(h Handle) *Session {
	s := a.get(h)
	if s == nil {
		return nil
	}
	sl := &a.slots[h.index]
	sl.session = nil
	sl.generation++
	a.free = append(a.free, h.index)
	a.count--
	return s
}

// each visits live sessions; fn may remove the visited handle.
func (a *arena) each(fn func(h Handle, s *Session)) {
	for i := range a.slots {
		sl := a.slots[i]
		if sl.session == nil {
			continue
		}
		fn(Handle{index: uint32(i), generation: sl.generation}, sl.session)
	}
}
