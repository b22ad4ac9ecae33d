package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tessera/internal/cluster"
)

var (
	// ErrGroupFull is returned when every slot of a role is taken.
	ErrGroupFull = errors.New("no free slot for role")
	// ErrInvalidMember is returned for registrations missing an ID, address
	// or known role, and for writers without a fetch address.
	ErrInvalidMember = errors.New("invalid member")
	// ErrUnknownMember is returned for lookups of unregistered members.
	ErrUnknownMember = errors.New("unknown member")
)

// MemberRegistry assigns group ranks to the processes of one stream and is
// the hub's source of truth for the membership.
//
// Ranks follow the stream layout: writers take ranks [0, W) and readers
// [W, W+R), each in registration order:
//
//	┌──────────────────────────────────────┐
//	│            MemberRegistry            │
//	├──────────────────────────────────────┤
//	│  writers: w-a → 0, w-b → 1           │
//	│  readers: r-a → 2, r-b → 3, r-c → 4  │
//	│  complete once W+R have registered   │
//	└──────────────────────────────────────┘
//
// Registering an ID again (a restarted process) keeps its rank and updates
// its addresses. All methods are safe for concurrent use and return copies.
type MemberRegistry struct {
	mu      sync.RWMutex
	writers int
	readers int
	byRank  []*cluster.MemberInfo
	nextW   int
	nextR   int
}

// NewMemberRegistry creates a registry expecting writers writers and
// readers readers.
func NewMemberRegistry(writers, readers int) *MemberRegistry {
	return &MemberRegistry{
		writers: writers,
		readers: readers,
		byRank:  make([]*cluster.MemberInfo, writers+readers),
	}
}

// Layout returns the expected writer and reader counts.
func (r *MemberRegistry) Layout() (writers, readers int) {
	return r.writers, r.readers
}

// Register assigns m a rank and returns the stored member.
func (r *MemberRegistry) Register(m cluster.MemberInfo) (cluster.MemberInfo, error) {
	if m.ID == "" || m.Addr == "" {
		return cluster.MemberInfo{}, fmt.Errorf("%w: missing id or addr", ErrInvalidMember)
	}
	if m.Role != cluster.RoleWriter && m.Role != cluster.RoleReader {
		return cluster.MemberInfo{}, fmt.Errorf("%w: role %q", ErrInvalidMember, m.Role)
	}
	if m.Role == cluster.RoleWriter && m.FetchAddr == "" {
		return cluster.MemberInfo{}, fmt.Errorf("%w: writer %s has no fetch address", ErrInvalidMember, m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := slices.IndexFunc(r.byRank, func(p *cluster.MemberInfo) bool { return p != nil && p.ID == m.ID }); i >= 0 {
		if r.byRank[i].Role != m.Role {
			return cluster.MemberInfo{}, fmt.Errorf("%w: %s re-registered as %s", ErrInvalidMember, m.ID, m.Role)
		}
		m.Rank = i
		r.byRank[i] = &m
		return m, nil
	}

	switch m.Role {
	case cluster.RoleWriter:
		if r.nextW >= r.writers {
			return cluster.MemberInfo{}, fmt.Errorf("%w: %d writers registered", ErrGroupFull, r.writers)
		}
		m.Rank = r.nextW
		r.nextW++
	default:
		if r.nextR >= r.readers {
			return cluster.MemberInfo{}, fmt.Errorf("%w: %d readers registered", ErrGroupFull, r.readers)
		}
		m.Rank = r.writers + r.nextR
		r.nextR++
	}
	r.byRank[m.Rank] = &m
	return m, nil
}

// Members returns the registered members in rank order.
func (r *MemberRegistry) Members() []cluster.MemberInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.MemberInfo, 0, len(r.byRank))
	for _, m := range r.byRank {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// Member returns the member registered under id.
func (r *MemberRegistry) Member(id string) (cluster.MemberInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.byRank {
		if m != nil && m.ID == id {
			return *m, nil
		}
	}
	return cluster.MemberInfo{}, fmt.Errorf("%w: %s", ErrUnknownMember, id)
}

// Complete reports whether every expected member has registered.
func (r *MemberRegistry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextW == r.writers && r.nextR == r.readers
}

// Size returns the full group size.
func (r *MemberRegistry) Size() int {
	return r.writers + r.readers
}
