package models

import (
	"time"
)

// BackendKind selects which driver family a team speaks.
//
// "stream" is the push protocol: one long-lived websocket per team, events
// arrive asynchronously. "poll" is plain request/response: history and
// directory are fetched on demand and "connected" just means "the credential
// validated".
type BackendKind string

const (
	KindStream BackendKind = "stream"
	KindPoll   BackendKind = "poll"
)

// ConnState is the Team Session's connection state machine value.
//
// The session is NOT destroyed on a dropped connection; it parks in
// StateDisconnected and waits for a user-triggered /connect. Only removing
// the credential retires it (StateRemoved).
type ConnState int

const (
	StateUnauthorized ConnState = iota
	StateAuthorizing
	StateConnected
	StateDisconnected
	StateRemoved
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorizing:
		return "authorizing"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Credential is what authorization produces and the token store persists.
//
// The core treats AccessToken as an opaque blob. ExpiresAt is a hint only:
// zero means "no idea", and nothing in the client acts on it automatically.
// An expired token simply fails the next Connect and the user re-runs /auth.
//
// Why string ids and not uuid.UUID?
//   - Both backends mint their own id formats (stream ids look like
//     "T0G9PQBBK", poll hosts use 26-char alphanumerics). They are opaque
//     tokens to us, never parsed, only compared.
type Credential struct {
	Kind         BackendKind `json:"kind"`
	TeamID       string      `json:"team_id"`
	TeamName     string      `json:"team_name"`
	UserID       string      `json:"user_id"`
	UserName     string      `json:"user_name"`
	Host         string      `json:"host,omitempty"` // poll backend only
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at,omitempty"`
}

// Key is the team's identity across the whole client: "kind:id".
// Two backends could in principle assign the same raw id.
func (c *Credential) Key() string {
	return string(c.Kind) + ":" + c.TeamID
}

// ChannelKind distinguishes how a channel may be addressed and listed.
type ChannelKind int

const (
	ChannelPublic ChannelKind = iota
	ChannelPrivate
	ChannelDM
)

// Channel is one addressable conversation stream within a team.
//
// Provisional means the entry was inferred from an inbound event (say, the
// first message from a DM peer we had never seen) rather than confirmed by a
// directory fetch. A later reload either confirms it or drops it.
type Channel struct {
	ID     string
	TeamID string
	Name   string
	Kind   ChannelKind
	// PeerUserID is set for DM channels: the user on the other end.
	PeerUserID string
	// Member reports whether we have joined the channel.
	Member      bool
	Provisional bool
}

// IsDM reports whether this is a direct-message channel.
func (c *Channel) IsDM() bool { return c.Kind == ChannelDM }

// User is a person within a team.
type User struct {
	ID       string
	TeamID   string
	Name     string
	RealName string
	// DMChannelID is the id of the direct channel with this user, when one
	// is known to exist. Empty until the directory (or an event) reveals it.
	DMChannelID string
	Provisional bool
}

// EventKind classifies what a MessageEvent describes.
type EventKind int

const (
	EventPosted EventKind = iota
	EventEdited
	EventDeleted
	// EventSystem covers connection notices and other non-message lines the
	// session wants displayed ("<Connected: zh>").
	EventSystem
)

// Attachment references a file mentioned by a message. Payload retrieval
// goes back through the owning driver (FetchAttachment); this struct only
// carries what display and later fetching need.
type Attachment struct {
	FileID string
	Name   string
	Size   int64
	URL    string
}

// MessageEvent is one display-ready inbound event: a received message, an
// edit or deletion notice, a recap line, or a system notice. The session
// produces these in transport arrival order; the manager renders them.
type MessageEvent struct {
	TeamKey   string
	TeamID    string
	ChannelID string
	UserID    string
	Kind      EventKind
	Text      string
	// Prior is the previous text for EventEdited lines.
	Prior       string
	Timestamp   time.Time
	Attachments []Attachment

	// NewChannel / NewUser carry directory payloads for events that announce
	// them (channel created, DM opened, user joined). The session applies
	// them to its cache; an event with an empty Text is directory-only and
	// never displayed.
	NewChannel *Channel
	NewUser    *User
}
