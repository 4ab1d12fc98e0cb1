package directory

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lalith-99/crosstalk/internal/models"
)

// Snapshot is one immutable view of a team's channels and users. The cache
// never mutates a published snapshot: every change builds a fresh one and
// swaps the pointer, so a reader holding a snapshot can resolve addresses
// against it without ever observing a half-applied merge.
type Snapshot struct {
	Channels map[string]*models.Channel // channel id → channel
	Users    map[string]*models.User    // user id → user

	// Reverse indexes, lowercased name → id. Rebuilt with the forward maps
	// on every change, so they are consistent by construction.
	ChannelIDByName map[string]string
	UserIDByName    map[string]string
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Channels:        map[string]*models.Channel{},
		Users:           map[string]*models.User{},
		ChannelIDByName: map[string]string{},
		UserIDByName:    map[string]string{},
	}
}

// clone copies the snapshot's maps (entries are copied too; they are small
// value structs behind pointers and callers must not share them).
func (s *Snapshot) clone() *Snapshot {
	next := emptySnapshot()
	for id, ch := range s.Channels {
		c := *ch
		next.Channels[id] = &c
	}
	for id, u := range s.Users {
		v := *u
		next.Users[id] = &v
	}
	next.reindex()
	return next
}

// reindex rebuilds the reverse name indexes from the forward maps.
// DM channels are indexed under "@username" just like display shows them.
func (s *Snapshot) reindex() {
	s.ChannelIDByName = map[string]string{}
	s.UserIDByName = map[string]string{}
	for id, ch := range s.Channels {
		s.ChannelIDByName[strings.ToLower(ch.Name)] = id
	}
	for id, u := range s.Users {
		s.UserIDByName[strings.ToLower(u.Name)] = id
	}
}

// ChannelsSorted returns non-DM channels ordered the way /channels lists
// them: members first, then by name.
func (s *Snapshot) ChannelsSorted() []*models.Channel {
	ls := make([]*models.Channel, 0, len(s.Channels))
	for _, ch := range s.Channels {
		if ch.IsDM() {
			continue
		}
		ls = append(ls, ch)
	}
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Member != ls[j].Member {
			return ls[i].Member
		}
		return ls[i].Name < ls[j].Name
	})
	return ls
}

// UsersSorted returns users ordered by display name.
func (s *Snapshot) UsersSorted() []*models.User {
	ls := make([]*models.User, 0, len(s.Users))
	for _, u := range s.Users {
		ls = append(ls, u)
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	return ls
}

// Cache is one team's directory. Mutations (Replace, Apply*) arrive from two
// goroutines, the command dispatcher (reloads) and the session's event pump
// (provisional entries), so the load-build-store cycle runs under writeMu;
// without it a pump write during a reload could republish a clone of the
// pre-reload snapshot and drop the whole fetch. Reads (Snapshot) stay
// lock-free on the atomic pointer and may come from anywhere.
type Cache struct {
	teamID  string
	writeMu sync.Mutex
	snap    atomic.Pointer[Snapshot]
}

func NewCache(teamID string) *Cache {
	c := &Cache{teamID: teamID}
	c.snap.Store(emptySnapshot())
	return c
}

// Snapshot returns the current view. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Replace installs the result of a full directory fetch.
//
// Merge policy:
//   - entries in the fetch replace or add to the cache, always confirmed
//     (a fetch result trumps any provisional guess);
//   - entries absent from the fetch are dropped, EXCEPT the channel named
//     by keepChannelID (the global current-channel cursor): that one is
//     retained and demoted to provisional, so an in-flight conversation
//     survives a backend whose channel listing is incomplete;
//   - users referenced by a retained DM channel are retained the same way.
//
// The swap is all-or-nothing: a failed fetch never reaches this method, and
// readers see either the old snapshot or the new one.
func (c *Cache) Replace(channels []models.Channel, users []models.User, keepChannelID string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := c.snap.Load()
	next := emptySnapshot()

	for i := range users {
		u := users[i]
		u.TeamID = c.teamID
		u.Provisional = false
		next.Users[u.ID] = &u
	}
	for i := range channels {
		ch := channels[i]
		ch.TeamID = c.teamID
		ch.Provisional = false
		next.Channels[ch.ID] = &ch
		// Keep the user→DM link in sync with the channel list.
		if ch.IsDM() && ch.PeerUserID != "" {
			if u, ok := next.Users[ch.PeerUserID]; ok {
				u.DMChannelID = ch.ID
			}
		}
	}

	if keepChannelID != "" {
		if _, ok := next.Channels[keepChannelID]; !ok {
			if ch, ok := old.Channels[keepChannelID]; ok {
				kept := *ch
				kept.Provisional = true
				next.Channels[kept.ID] = &kept
				if kept.IsDM() && kept.PeerUserID != "" {
					if _, ok := next.Users[kept.PeerUserID]; !ok {
						if u, ok := old.Users[kept.PeerUserID]; ok {
							keptUser := *u
							keptUser.Provisional = true
							next.Users[keptUser.ID] = &keptUser
						}
					}
				}
			}
		}
	}

	next.reindex()
	c.snap.Store(next)
}

// ApplyChannel inserts or updates a single channel, typically a provisional
// entry implied by an inbound event (first message from an unknown DM peer).
// A confirmed entry is never demoted by an event-derived one.
func (c *Cache) ApplyChannel(ch models.Channel) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := c.snap.Load().clone()
	ch.TeamID = c.teamID
	if prev, ok := next.Channels[ch.ID]; ok && !prev.Provisional {
		ch.Provisional = false
	}
	next.Channels[ch.ID] = &ch
	if ch.IsDM() && ch.PeerUserID != "" {
		if u, ok := next.Users[ch.PeerUserID]; ok {
			u.DMChannelID = ch.ID
		}
	}
	next.reindex()
	c.snap.Store(next)
}

// ApplyUser inserts or updates a single user, same provisional rules as
// ApplyChannel.
func (c *Cache) ApplyUser(u models.User) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := c.snap.Load().clone()
	u.TeamID = c.teamID
	if prev, ok := next.Users[u.ID]; ok {
		if !prev.Provisional {
			u.Provisional = false
		}
		if u.DMChannelID == "" {
			u.DMChannelID = prev.DMChannelID
		}
	}
	next.Users[u.ID] = &u
	next.reindex()
	c.snap.Store(next)
}
