// Package address resolves the compact address syntax the user types:
//
//	#team/channel  #team/@user  #team/  #channel  #@user  (empty)
//
// against the directory caches. Resolution is pure: given the same team
// views and cursor it always returns the same answer, and it performs no
// I/O. The leading '#' is stripped by the caller.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lalith-99/crosstalk/internal/directory"
)

var (
	// ErrNoCurrentTeam: the address omitted the team segment and no
	// current team is set.
	ErrNoCurrentTeam = errors.New("no current team")
	// ErrNoCurrentChannel: an empty address with no current channel set.
	ErrNoCurrentChannel = errors.New("no current channel")
)

// AmbiguousError reports a token that matched more than one candidate.
// No silent first-match: the user gets the candidate list and retypes.
type AmbiguousError struct {
	What       string // "team", "channel", "user"
	Token      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s %q is ambiguous: %s", e.What, e.Token, strings.Join(e.Candidates, ", "))
}

// NotFoundError reports a token that matched nothing.
type NotFoundError struct {
	What  string
	Token string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not recognized: %s", e.What, e.Token)
}

// TeamRef is the resolver's view of one authorized team: naming data plus
// the directory snapshot current at resolution time.
type TeamRef struct {
	Key     string // "kind:id", unique across backends
	ID      string
	Name    string
	Aliases []string // first alias is the canonical short name
	Snap    *directory.Snapshot
	// LastChannelID backs the "team/" form: the last channel spoken on in
	// that team.
	LastChannelID string
}

// Cursor is the manager's current (team, channel) pair.
type Cursor struct {
	TeamKey   string
	ChannelID string
}

// Target is a successful resolution.
//
// A DM target whose channel is not yet known comes back with ChannelID ""
// and UserID set, the "unresolved DM" case. Policy for callers: attempt
// the send anyway (backends create the DM channel implicitly on first
// send), then refresh the directory.
type Target struct {
	TeamKey   string
	ChannelID string
	UserID    string // set for @user targets
	DM        bool
}

// Unresolved reports whether this is a DM target with no known channel.
func (t *Target) Unresolved() bool { return t.DM && t.ChannelID == "" }

// Resolve parses token against the team list and cursor. token carries no
// leading '#'. An empty token returns the current pair.
func Resolve(token string, teams []TeamRef, cur *Cursor) (*Target, error) {
	if token == "" {
		if cur == nil || cur.TeamKey == "" {
			return nil, ErrNoCurrentTeam
		}
		if cur.ChannelID == "" {
			return nil, ErrNoCurrentChannel
		}
		return &Target{TeamKey: cur.TeamKey, ChannelID: cur.ChannelID}, nil
	}

	teamTok, rest, hasSep := splitAddress(token)

	var team *TeamRef
	var err error
	if hasSep {
		team, err = matchTeam(teamTok, teams)
		if err != nil {
			return nil, err
		}
	} else {
		rest = teamTok
		if cur == nil || cur.TeamKey == "" {
			return nil, ErrNoCurrentTeam
		}
		team = findByKey(teams, cur.TeamKey)
		if team == nil {
			return nil, ErrNoCurrentTeam
		}
	}

	// "team/" switches to the team's last-used channel.
	if hasSep && rest == "" {
		if team.LastChannelID == "" {
			return nil, &NotFoundError{What: "default channel for team", Token: teamTok}
		}
		return &Target{TeamKey: team.Key, ChannelID: team.LastChannelID}, nil
	}

	if strings.HasPrefix(rest, "@") {
		return matchUser(strings.TrimPrefix(rest, "@"), team)
	}
	return matchChannel(rest, team)
}

// splitAddress separates the optional team segment. Both "/" and ":" work
// as the separator, a habit carried over from the original syntax.
func splitAddress(token string) (team, rest string, hasSep bool) {
	if i := strings.IndexAny(token, "/:"); i >= 0 {
		return token[:i], token[i+1:], true
	}
	return token, "", false
}

func findByKey(teams []TeamRef, key string) *TeamRef {
	for i := range teams {
		if teams[i].Key == key {
			return &teams[i]
		}
	}
	return nil
}

// MatchTeam resolves a bare team token the way the team segment of an
// address does. Commands like "connect zh" use it directly.
func MatchTeam(token string, teams []TeamRef) (*TeamRef, error) {
	return matchTeam(token, teams)
}

// matchTeam matches a team token case-insensitively against id (exact),
// display name, and aliases (exact or prefix). Exact matches beat prefix
// matches; plurality at the winning rank is an error, not a guess.
func matchTeam(token string, teams []TeamRef) (*TeamRef, error) {
	tok := strings.ToLower(token)
	var exact, approx []*TeamRef

	for i := range teams {
		t := &teams[i]
		switch teamMatchRank(t, tok) {
		case rankExact:
			exact = append(exact, t)
		case rankApprox:
			approx = append(approx, t)
		}
	}

	pick := exact
	if len(pick) == 0 {
		pick = approx
	}
	switch len(pick) {
	case 0:
		return nil, &NotFoundError{What: "team", Token: token}
	case 1:
		return pick[0], nil
	default:
		names := make([]string, len(pick))
		for i, t := range pick {
			names[i] = t.Name
		}
		return nil, &AmbiguousError{What: "team", Token: token, Candidates: names}
	}
}

type matchRank int

const (
	rankNone matchRank = iota
	rankApprox
	rankExact
)

func teamMatchRank(t *TeamRef, tok string) matchRank {
	if strings.ToLower(t.ID) == tok {
		return rankExact
	}
	name := strings.ToLower(t.Name)
	if name == tok {
		return rankExact
	}
	rank := rankNone
	if strings.HasPrefix(name, tok) {
		rank = rankApprox
	}
	for _, a := range t.Aliases {
		al := strings.ToLower(a)
		if al == tok {
			return rankExact
		}
		if strings.HasPrefix(al, tok) {
			rank = rankApprox
		}
	}
	return rank
}

func matchChannel(token string, team *TeamRef) (*Target, error) {
	tok := strings.ToLower(token)
	snap := team.Snap
	if snap == nil {
		return nil, &NotFoundError{What: "channel", Token: token}
	}

	// Exact: raw id or full name.
	if _, ok := snap.Channels[token]; ok {
		return &Target{TeamKey: team.Key, ChannelID: token}, nil
	}
	if id, ok := snap.ChannelIDByName[tok]; ok {
		return &Target{TeamKey: team.Key, ChannelID: id}, nil
	}

	// Prefix over names.
	var ids, names []string
	for name, id := range snap.ChannelIDByName {
		if strings.HasPrefix(name, tok) {
			ids = append(ids, id)
			names = append(names, snap.Channels[id].Name)
		}
	}
	switch len(ids) {
	case 0:
		return nil, &NotFoundError{What: "channel", Token: token}
	case 1:
		return &Target{TeamKey: team.Key, ChannelID: ids[0]}, nil
	default:
		return nil, &AmbiguousError{What: "channel", Token: token, Candidates: names}
	}
}

func matchUser(token string, team *TeamRef) (*Target, error) {
	tok := strings.ToLower(token)
	snap := team.Snap
	if snap == nil {
		return nil, &NotFoundError{What: "user", Token: token}
	}

	id, ok := snap.UserIDByName[tok]
	if !ok {
		var ids, names []string
		for name, uid := range snap.UserIDByName {
			if strings.HasPrefix(name, tok) {
				ids = append(ids, uid)
				names = append(names, snap.Users[uid].Name)
			}
		}
		switch len(ids) {
		case 0:
			return nil, &NotFoundError{What: "user", Token: token}
		case 1:
			id = ids[0]
		default:
			return nil, &AmbiguousError{What: "user", Token: token, Candidates: names}
		}
	}

	u := snap.Users[id]
	// DMChannelID may be empty: the unresolved-DM case. The caller sends
	// anyway and reloads.
	return &Target{TeamKey: team.Key, ChannelID: u.DMChannelID, UserID: id, DM: true}, nil
}
