package typing

import "time"

const DefaultTTL = 10 * time.Second

type entry struct {
	user   User
	seenAt time.Time
}

// Set is the client-side list of users currently typing in a room, most
// recent signal first. The viewer never appears in it.
type Set struct {
	Viewer int64
	TTL    time.Duration

	entries []entry
}

func NewSet(viewer int64) *Set {
	return &Set{Viewer: viewer, TTL: DefaultTTL}
}

func (s *Set) Apply(sig Signal, now time.Time) {
	s.remove(sig.User.ID)
	if !sig.Typing || sig.User.ID == s.Viewer {
		return
	}

	s.entries = append([]entry{{user: sig.User, seenAt: now}}, s.entries...)
}

// Expire drops users whose last signal is older than the TTL. Covers clients
// that vanished without sending typing=false.
func (s *Set) Expire(now time.Time) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if now.Sub(e.seenAt) < s.TTL {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func (s *Set) Users() []User {
	users := make([]User, 0, len(s.entries))
	for _, e := range s.entries {
		users = append(users, e.user)
	}
	return users
}

func (s *Set) Len() int {
	return len(s.entries)
}

func (s *Set) remove(userID int64) {
	for i, e := range s.entries {
		if e.user.ID == userID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}
