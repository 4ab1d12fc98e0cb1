// Package session owns the per-team lifecycle: one Session per authorized
// credential, holding that team's driver, directory cache, and connection
// state. Sessions outlive their connections: a dropped websocket parks the
// session in the disconnected state until the user reconnects it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/crosstalk/internal/address"
	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/directory"
	"github.com/lalith-99/crosstalk/internal/models"
)

// Session binds one team's credential to its driver and directory.
//
// Concurrency contract: all mutating methods (Connect, Disconnect, Reload,
// Remove, setters) are called from the manager's single command goroutine.
// The event pump is the only other goroutine touching the session, and it
// confines itself to the directory cache (which synchronizes internally) and
// the state field (under mu).
type Session struct {
	cred   *models.Credential
	driver backend.Driver
	cache  *directory.Cache
	log    *zap.Logger

	// out is the manager's fan-in channel. The pump stamps each event with
	// the team key before forwarding.
	out chan<- models.MessageEvent

	mu            sync.Mutex
	state         models.ConnState
	aliases       []string
	lastChannelID string
	pumpDone      chan struct{}
}

// New creates a session for a stored credential. It starts disconnected;
// nothing touches the network until Connect.
func New(cred *models.Credential, driver backend.Driver, out chan<- models.MessageEvent, log *zap.Logger) *Session {
	return &Session{
		cred:   cred,
		driver: driver,
		cache:  directory.NewCache(cred.TeamID),
		log:    log.With(zap.String("team", cred.TeamName)),
		out:    out,
		state:  models.StateDisconnected,
	}
}

func (s *Session) Key() string  { return s.cred.Key() }
func (s *Session) Name() string { return s.cred.TeamName }

func (s *Session) SelfUserID() string { return s.cred.UserID }

func (s *Session) Credential() *models.Credential { return s.cred }

func (s *Session) Driver() backend.Driver { return s.driver }

func (s *Session) Cache() *directory.Cache { return s.cache }

func (s *Session) State() models.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st models.ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Aliases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliases
}

func (s *Session) SetAliases(aliases []string) {
	s.mu.Lock()
	s.aliases = aliases
	s.mu.Unlock()
}

func (s *Session) LastChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChannelID
}

func (s *Session) SetLastChannel(channelID string) {
	s.mu.Lock()
	s.lastChannelID = channelID
	s.mu.Unlock()
}

// TeamRef packages the session for the address resolver: identity, aliases,
// and the directory snapshot current right now.
func (s *Session) TeamRef() address.TeamRef {
	s.mu.Lock()
	aliases := s.aliases
	last := s.lastChannelID
	s.mu.Unlock()
	return address.TeamRef{
		Key:           s.cred.Key(),
		ID:            s.cred.TeamID,
		Name:          s.cred.TeamName,
		Aliases:       aliases,
		Snap:          s.cache.Snapshot(),
		LastChannelID: last,
	}
}

// Connect brings the session up: dial (stream) or validate (poll), then a
// full directory fetch. Idempotent: connecting a connected session is a
// no-op, not an error.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case models.StateConnected:
		s.mu.Unlock()
		return nil
	case models.StateRemoved:
		s.mu.Unlock()
		return fmt.Errorf("team %s has been removed", s.cred.TeamName)
	}
	s.state = models.StateAuthorizing
	s.mu.Unlock()

	if err := s.driver.Connect(ctx, s.cred); err != nil {
		// A rejected credential needs a fresh /auth, not a retry; park the
		// session accordingly.
		var ae *backend.AuthError
		if errors.As(err, &ae) {
			s.setState(models.StateUnauthorized)
		} else {
			s.setState(models.StateDisconnected)
		}
		return err
	}
	s.setState(models.StateConnected)

	if err := s.Reload(ctx); err != nil {
		s.log.Warn("initial directory fetch failed", zap.Error(err))
	}

	if sd, ok := s.driver.(backend.StreamDriver); ok {
		done := make(chan struct{})
		s.mu.Lock()
		s.pumpDone = done
		s.mu.Unlock()
		go s.pump(sd.Events(), done)
	}
	return nil
}

// Disconnect drops the connection. The event pump drains and exits on its
// own when the driver closes the events channel.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = models.StateDisconnected
	done := s.pumpDone
	s.pumpDone = nil
	s.mu.Unlock()

	err := s.driver.Disconnect(ctx)
	if done != nil {
		<-done
	}
	return err
}

// Remove retires the session after its credential is deleted. Terminal.
func (s *Session) Remove(ctx context.Context) error {
	err := s.Disconnect(ctx)
	s.setState(models.StateRemoved)
	return err
}

// Reload refreshes the directory with a full fetch. The current channel (by
// the session's last-channel cursor) survives the merge even if the fetch
// omits it.
func (s *Session) Reload(ctx context.Context) error {
	channels, users, err := s.driver.FetchDirectory(ctx)
	if err != nil {
		return err
	}
	s.cache.Replace(channels, users, s.LastChannelID())
	s.log.Debug("directory reloaded",
		zap.Int("channels", len(channels)), zap.Int("users", len(users)))
	return nil
}

// pump forwards driver events to the manager's fan-in, stamping the team
// key and learning provisional directory entries along the way. It runs
// until the driver closes its events channel (transport drop or explicit
// disconnect), then marks the session disconnected.
func (s *Session) pump(events <-chan models.MessageEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		ev.TeamKey = s.cred.Key()
		ev.TeamID = s.cred.TeamID
		if ev.NewChannel != nil {
			s.cache.ApplyChannel(*ev.NewChannel)
		}
		if ev.NewUser != nil {
			s.cache.ApplyUser(*ev.NewUser)
		}
		if ev.Kind == models.EventSystem && ev.Text == "" {
			// Directory-only event, nothing to display.
			continue
		}
		s.learn(&ev)
		s.out <- ev
	}

	s.mu.Lock()
	if s.state == models.StateConnected {
		s.state = models.StateDisconnected
	}
	s.mu.Unlock()
}

// learn inserts provisional directory entries implied by an inbound event:
// a channel or user we have never seen gets a placeholder named by its id,
// to be confirmed or dropped by the next reload.
func (s *Session) learn(ev *models.MessageEvent) {
	if ev.Kind == models.EventSystem {
		return
	}
	snap := s.cache.Snapshot()
	dmChannelID := ""
	if ev.ChannelID != "" {
		if _, ok := snap.Channels[ev.ChannelID]; !ok {
			ch := models.Channel{
				ID:          ev.ChannelID,
				Name:        ev.ChannelID,
				Kind:        models.ChannelPublic,
				Member:      true,
				Provisional: true,
			}
			// Stream DM channel ids are distinguishable by prefix; tag them
			// so "#@user" resolves before the next reload confirms the entry.
			if s.driver.Kind() == models.KindStream && strings.HasPrefix(ev.ChannelID, "D") &&
				ev.UserID != "" && ev.UserID != s.cred.UserID {
				ch.Kind = models.ChannelDM
				ch.PeerUserID = ev.UserID
				if u, ok := snap.Users[ev.UserID]; ok {
					ch.Name = "@" + u.Name
				} else {
					ch.Name = "@" + ev.UserID
				}
				dmChannelID = ev.ChannelID
			}
			s.cache.ApplyChannel(ch)
		}
	}
	if ev.UserID != "" {
		if _, ok := snap.Users[ev.UserID]; !ok {
			s.cache.ApplyUser(models.User{
				ID:          ev.UserID,
				Name:        ev.UserID,
				DMChannelID: dmChannelID,
				Provisional: true,
			})
		}
	}
}
