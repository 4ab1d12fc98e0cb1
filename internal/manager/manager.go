// Package manager is the hub the command line talks to: it owns every Team
// Session, merges their inbound feeds into one display stream, resolves the
// address a line targets, and runs the slash-command table.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lalith-99/crosstalk/internal/address"
	"github.com/lalith-99/crosstalk/internal/auth"
	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/config"
	"github.com/lalith-99/crosstalk/internal/models"
	"github.com/lalith-99/crosstalk/internal/session"
)

// ErrUnknownCommand: the slash verb matched nothing. No state changed.
var ErrUnknownCommand = errors.New("unknown command")

const ringSize = 16

// DriverFactory builds a fresh driver for a backend kind. Injected so tests
// can substitute fakes.
type DriverFactory func(kind models.BackendKind) backend.Driver

type ringEntry struct {
	seq     int
	teamKey string
	ev      models.MessageEvent
	index   int
}

// Options wires a Manager together.
type Options struct {
	Config    *config.Config
	Store     *auth.TokenStore
	Prefs     *auth.Prefs
	Log       *zap.Logger
	Level     zap.AtomicLevel
	NewDriver DriverFactory
	// Print is the display sink. Defaults to stdout.
	Print func(string)
}

// Manager multiplexes every session behind one command surface.
//
// Threading: Dispatch runs on the caller's (stdin) goroutine; the event loop
// runs on its own. They share the cursor/ring state under mu and the display
// sink under printMu, nothing else.
type Manager struct {
	cfg       *config.Config
	store     *auth.TokenStore
	prefs     *auth.Prefs
	log       *zap.Logger
	level     zap.AtomicLevel
	newDriver DriverFactory

	printMu sync.Mutex
	printFn func(string)

	// events is the fan-in every session's pump writes to.
	events chan models.MessageEvent
	quit   chan struct{}
	once   sync.Once

	mu           sync.Mutex
	sessions     []*session.Session
	current      address.Cursor
	lastReceived address.Cursor
	ring         []ringEntry
	ringSeq      int
	debug        bool
}

func New(opts Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		store:     opts.Store,
		prefs:     opts.Prefs,
		log:       opts.Log,
		level:     opts.Level,
		newDriver: opts.NewDriver,
		printFn:   opts.Print,
		events:    make(chan models.MessageEvent, 256),
		quit:      make(chan struct{}),
	}
	if m.printFn == nil {
		m.printFn = func(s string) { fmt.Println(s) }
	}
	if m.prefs.Debug() {
		m.debug = true
		m.level.SetLevel(zapcore.DebugLevel)
	}
	return m
}

// Start loads stored credentials in file order, builds their sessions, and
// connects each one. It also starts the event loop; Done reports when /quit
// has finished.
func (m *Manager) Start(ctx context.Context) error {
	creds, err := m.store.LoadAll()
	if err != nil {
		return err
	}
	for _, cred := range creds {
		m.addSession(cred)
	}

	go m.loop()

	for _, s := range m.snapshotSessions() {
		m.connectOne(ctx, s)
	}
	return nil
}

// Done is closed once /quit has disconnected everything.
func (m *Manager) Done() <-chan struct{} { return m.quit }

func (m *Manager) addSession(cred *models.Credential) *session.Session {
	s := session.New(cred, m.newDriver(cred.Kind), m.events, m.log)
	s.SetAliases(m.prefs.Aliases(cred.Key()))
	s.SetLastChannel(m.prefs.LastChannel(cred.Key()))

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, prev := range m.sessions {
		if prev.Key() == cred.Key() {
			m.sessions[i] = s
			return s
		}
	}
	m.sessions = append(m.sessions, s)
	return s
}

func (m *Manager) snapshotSessions() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

func (m *Manager) sessionByKey(key string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Key() == key {
			return s
		}
	}
	return nil
}

func (m *Manager) teamRefs() []address.TeamRef {
	sessions := m.snapshotSessions()
	refs := make([]address.TeamRef, 0, len(sessions))
	for _, s := range sessions {
		refs = append(refs, s.TeamRef())
	}
	return refs
}

func (m *Manager) println(s string) {
	m.printMu.Lock()
	defer m.printMu.Unlock()
	m.printFn(s)
}

// ---------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------

// Dispatch handles one input line: slash command, address switch (with an
// optional message), bare ";" cursor jump, or plain text to the current
// channel. A leading ";" on a text line is stripped, an escape for messages
// that start with a literal command character.
func (m *Manager) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(line, "/"):
		return m.command(ctx, strings.TrimPrefix(line, "/"))

	case strings.HasPrefix(line, "#"):
		addr, text, _ := strings.Cut(strings.TrimPrefix(line, "#"), " ")
		return m.dispatchAddressed(ctx, addr, text)

	case line == ";":
		return m.jumpToLastReceived()

	case strings.HasPrefix(line, ";"):
		line = strings.TrimPrefix(line, ";")
		fallthrough

	default:
		tgt, err := m.resolve("")
		if err != nil {
			return err
		}
		return m.send(ctx, tgt, line)
	}
}

func (m *Manager) resolve(addr string) (*address.Target, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	return address.Resolve(addr, m.teamRefs(), &cur)
}

func (m *Manager) dispatchAddressed(ctx context.Context, addr, text string) error {
	tgt, err := m.resolve(addr)
	if err != nil {
		return err
	}

	if text != "" {
		return m.send(ctx, tgt, text)
	}

	// Pure cursor switch. An unresolved DM has no channel to point at yet;
	// a directory refresh may reveal one the backend already opened.
	if tgt.Unresolved() {
		if s := m.sessionByKey(tgt.TeamKey); s != nil {
			if err := s.Reload(ctx); err == nil {
				if u, ok := s.Cache().Snapshot().Users[tgt.UserID]; ok && u.DMChannelID != "" {
					tgt.ChannelID = u.DMChannelID
				}
			}
		}
		if tgt.Unresolved() {
			return &address.NotFoundError{What: "DM channel for user", Token: addr}
		}
	}

	m.setCurrent(tgt.TeamKey, tgt.ChannelID)
	return nil
}

func (m *Manager) jumpToLastReceived() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastReceived.TeamKey == "" {
		return fmt.Errorf("no message received yet")
	}
	m.current = m.lastReceived
	return nil
}

func (m *Manager) setCurrent(teamKey, channelID string) {
	m.mu.Lock()
	m.current = address.Cursor{TeamKey: teamKey, ChannelID: channelID}
	m.mu.Unlock()

	if s := m.sessionByKey(teamKey); s != nil {
		s.SetLastChannel(channelID)
		if err := m.prefs.SetLastChannel(teamKey, channelID); err != nil {
			m.log.Warn("persist last channel", zap.Error(err))
		}
	}
}

// send delivers text to a resolved target. For an unresolved DM the user id
// stands in for the channel (backends open the DM implicitly on first send)
// and a reload afterwards learns the real channel id.
func (m *Manager) send(ctx context.Context, tgt *address.Target, text string) error {
	s := m.sessionByKey(tgt.TeamKey)
	if s == nil {
		return &address.NotFoundError{What: "team", Token: tgt.TeamKey}
	}
	if s.State() != models.StateConnected {
		return &backend.SendError{Team: s.Name(), Err: backend.ErrNotConnected}
	}

	channelID := tgt.ChannelID
	if tgt.Unresolved() {
		channelID = tgt.UserID
	}

	if err := s.Driver().SendMessage(ctx, channelID, text); err != nil {
		return err
	}

	if tgt.Unresolved() {
		if err := s.Reload(ctx); err == nil {
			if u, ok := s.Cache().Snapshot().Users[tgt.UserID]; ok && u.DMChannelID != "" {
				channelID = u.DMChannelID
			}
		}
	}
	m.setCurrent(tgt.TeamKey, channelID)

	// The stream backend echoes the send back through its ack event; the
	// poll backend has no event feed, so echo locally.
	if _, streaming := s.Driver().(backend.StreamDriver); !streaming {
		m.events <- models.MessageEvent{
			TeamKey:   s.Key(),
			TeamID:    s.Credential().TeamID,
			ChannelID: channelID,
			UserID:    s.SelfUserID(),
			Kind:      models.EventPosted,
			Text:      text,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// ---------------------------------------------------------------
// Commands
// ---------------------------------------------------------------

func (m *Manager) command(ctx context.Context, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ErrUnknownCommand
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "connect":
		return m.cmdConnect(ctx, args)
	case "disconnect":
		return m.cmdDisconnect(ctx, args)
	case "teams":
		return m.cmdTeams()
	case "users":
		return m.cmdUsers(args)
	case "channels":
		return m.cmdChannels(args)
	case "reload":
		return m.cmdReload(ctx, args)
	case "recap":
		return m.cmdRecap(ctx, args)
	case "fetch":
		return m.cmdFetch(ctx, args)
	case "alias":
		return m.cmdAlias(args)
	case "auth":
		return m.cmdAuth(ctx, args)
	case "debug":
		return m.cmdDebug(args)
	case "help":
		return m.cmdHelp()
	case "quit":
		return m.cmdQuit(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}
}

// pickSessions resolves an optional team argument: none means all sessions,
// a token means exactly the one it names.
func (m *Manager) pickSessions(args []string) ([]*session.Session, error) {
	if len(args) == 0 {
		return m.snapshotSessions(), nil
	}
	ref, err := address.MatchTeam(args[0], m.teamRefs())
	if err != nil {
		return nil, err
	}
	s := m.sessionByKey(ref.Key)
	if s == nil {
		return nil, &address.NotFoundError{What: "team", Token: args[0]}
	}
	return []*session.Session{s}, nil
}

// currentSession resolves an optional team argument defaulting to the
// current team.
func (m *Manager) currentSession(args []string) (*session.Session, error) {
	if len(args) > 0 {
		ss, err := m.pickSessions(args)
		if err != nil {
			return nil, err
		}
		return ss[0], nil
	}
	m.mu.Lock()
	key := m.current.TeamKey
	m.mu.Unlock()
	if key == "" {
		return nil, address.ErrNoCurrentTeam
	}
	s := m.sessionByKey(key)
	if s == nil {
		return nil, address.ErrNoCurrentTeam
	}
	return s, nil
}

func (m *Manager) connectOne(ctx context.Context, s *session.Session) {
	if err := s.Connect(ctx); err != nil {
		m.println(fmt.Sprintf("<Connect failed: %s (%v)>", s.Name(), err))
		return
	}
	m.println(fmt.Sprintf("<Connected: %s>", m.shortName(s)))
}

func (m *Manager) cmdConnect(ctx context.Context, args []string) error {
	sessions, err := m.pickSessions(args)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		m.connectOne(ctx, s)
	}
	return nil
}

func (m *Manager) cmdDisconnect(ctx context.Context, args []string) error {
	sessions, err := m.pickSessions(args)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := s.Disconnect(ctx); err != nil {
			m.println(fmt.Sprintf("<Disconnect failed: %s (%v)>", s.Name(), err))
			continue
		}
		m.println(fmt.Sprintf("<Disconnected: %s>", m.shortName(s)))
	}
	return nil
}

func (m *Manager) cmdTeams() error {
	for _, s := range m.snapshotSessions() {
		marker := " "
		if s.State() == models.StateConnected {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s", marker, s.Name())
		if aliases := s.Aliases(); len(aliases) > 0 {
			line += " (" + strings.Join(aliases, ", ") + ")"
		}
		if st := s.State(); st != models.StateConnected {
			line += " [" + st.String() + "]"
		}
		if m.debugOn() {
			line += " " + s.Key()
		}
		m.println(line)
	}
	return nil
}

func (m *Manager) cmdUsers(args []string) error {
	s, err := m.currentSession(args)
	if err != nil {
		return err
	}
	for _, u := range s.Cache().Snapshot().UsersSorted() {
		line := "  " + u.Name
		if u.RealName != "" {
			line += " (" + u.RealName + ")"
		}
		if m.debugOn() {
			line += " " + u.ID
		}
		m.println(line)
	}
	return nil
}

func (m *Manager) cmdChannels(args []string) error {
	s, err := m.currentSession(args)
	if err != nil {
		return err
	}
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	for _, ch := range s.Cache().Snapshot().ChannelsSorted() {
		marker := "  "
		if cur.TeamKey == s.Key() && cur.ChannelID == ch.ID {
			marker = "* "
		}
		line := marker + ch.Name
		if ch.Kind == models.ChannelPrivate {
			line += " (priv)"
		}
		if !ch.Member {
			line += " (not joined)"
		}
		if m.debugOn() {
			line += " " + ch.ID
		}
		m.println(line)
	}
	return nil
}

func (m *Manager) cmdReload(ctx context.Context, args []string) error {
	sessions, err := m.pickSessions(args)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.State() != models.StateConnected {
			continue
		}
		if err := s.Reload(ctx); err != nil {
			m.println(fmt.Sprintf("<Reload failed: %s (%v)>", s.Name(), err))
			continue
		}
		m.println(fmt.Sprintf("<Reloaded: %s>", m.shortName(s)))
	}
	return nil
}

func (m *Manager) cmdRecap(ctx context.Context, args []string) error {
	// Arguments are an optional channel address and an optional window, in
	// either order: anything that parses as a duration is the window, the
	// rest is the address (leading '#' optional).
	addr := ""
	dur := 5 * time.Minute
	for _, a := range args {
		if d, err := parseRecapDuration(a); err == nil {
			dur = d
			continue
		}
		addr = strings.TrimPrefix(a, "#")
	}

	tgt, err := m.resolve(addr)
	if err != nil {
		return err
	}
	if tgt.Unresolved() {
		return &address.NotFoundError{What: "DM channel for user", Token: addr}
	}
	s := m.sessionByKey(tgt.TeamKey)
	if s == nil {
		return &address.NotFoundError{What: "team", Token: tgt.TeamKey}
	}

	since := time.Now().Add(-dur)
	events, err := s.Driver().FetchHistory(ctx, tgt.ChannelID, since, time.Time{})
	if err != nil {
		return err
	}
	for i := range events {
		ev := events[i]
		ev.TeamKey = s.Key()
		for _, line := range m.render(&ev, true) {
			m.println(line)
		}
	}
	return nil
}

// parseRecapDuration accepts "10m"-style durations and bare minute counts.
func parseRecapDuration(arg string) (time.Duration, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("recap window must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(arg)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("bad recap window %q", arg)
	}
	return d, nil
}

func (m *Manager) cmdFetch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /fetch N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad attachment number %q", args[0])
	}

	m.mu.Lock()
	var entry *ringEntry
	for i := range m.ring {
		if m.ring[i].seq == n {
			entry = &m.ring[i]
			break
		}
	}
	m.mu.Unlock()
	if entry == nil {
		return fmt.Errorf("attachment %d: %w", n, backend.ErrNotFound)
	}

	s := m.sessionByKey(entry.teamKey)
	if s == nil {
		return &address.NotFoundError{What: "team", Token: entry.teamKey}
	}
	dat, err := s.Driver().FetchAttachment(ctx, &entry.ev, entry.index)
	if err != nil {
		return err
	}

	name := entry.ev.Attachments[entry.index].Name
	path := filepath.Join(os.TempDir(), filepath.Base(name))
	if err := os.WriteFile(path, dat, 0o600); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	m.println("<Wrote " + path + ">")
	return nil
}

func (m *Manager) cmdAlias(args []string) error {
	// "/alias name..." aliases the current team; "/alias team name..."
	// aliases the named one when the first token resolves to a team.
	var s *session.Session
	aliases := args
	if len(args) >= 2 {
		if ref, err := address.MatchTeam(args[0], m.teamRefs()); err == nil {
			s = m.sessionByKey(ref.Key)
			aliases = args[1:]
		}
	}
	if s == nil {
		var err error
		s, err = m.currentSession(nil)
		if err != nil {
			return err
		}
	}

	if len(aliases) == 0 {
		cur := s.Aliases()
		if len(cur) == 0 {
			m.println("<No aliases for " + s.Name() + ">")
		} else {
			m.println("<" + s.Name() + ": " + strings.Join(cur, ", ") + ">")
		}
		return nil
	}

	s.SetAliases(aliases)
	if err := m.prefs.SetAliases(s.Key(), aliases); err != nil {
		return err
	}
	m.println("<" + s.Name() + " aliased: " + strings.Join(aliases, ", ") + ">")
	return nil
}

func (m *Manager) cmdAuth(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /auth stream | /auth poll host [token]")
	}

	req := backend.AuthRequest{
		RedirectPort: m.cfg.AuthPort,
		Notify:       m.println,
	}
	var kind models.BackendKind

	switch args[0] {
	case "stream":
		kind = models.KindStream
		req.ClientID = m.cfg.StreamClientID
		req.ClientSecret = m.cfg.StreamClientSecret
	case "poll":
		if len(args) < 2 {
			return fmt.Errorf("usage: /auth poll host [token]")
		}
		kind = models.KindPoll
		req.Host = args[1]
		req.ClientID = m.cfg.PollClientID
		req.ClientSecret = m.cfg.PollClientSecret
		if len(args) > 2 {
			req.StaticToken = args[2]
		}
	default:
		return fmt.Errorf("unknown backend %q", args[0])
	}

	drv := m.newDriver(kind)
	cred, err := drv.Authorize(ctx, req)
	if err != nil {
		return err
	}
	if err := m.store.Save(cred); err != nil {
		return err
	}

	if prev := m.sessionByKey(cred.Key()); prev != nil {
		_ = prev.Disconnect(ctx)
		m.println("<Re-authorized: " + cred.TeamName + ">")
	} else {
		m.println("<Authorized: " + cred.TeamName + " as " + cred.UserName + ">")
	}
	s := m.addSession(cred)
	m.connectOne(ctx, s)
	return nil
}

func (m *Manager) cmdDebug(args []string) error {
	m.mu.Lock()
	on := !m.debug
	m.mu.Unlock()
	if len(args) > 0 {
		switch args[0] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("usage: /debug [on|off]")
		}
	}

	m.mu.Lock()
	m.debug = on
	m.mu.Unlock()
	if on {
		m.level.SetLevel(zapcore.DebugLevel)
		m.println("<Debug on>")
	} else {
		m.level.SetLevel(zapcore.InfoLevel)
		m.println("<Debug off>")
	}
	return m.prefs.SetDebug(on)
}

func (m *Manager) debugOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debug
}

func (m *Manager) cmdHelp() error {
	for _, line := range []string{
		"/auth stream | /auth poll host [token]  authorize a new team",
		"/connect [team]     connect all teams, or one",
		"/disconnect [team]  disconnect all teams, or one",
		"/teams              list teams (* = connected)",
		"/channels [team]    list channels",
		"/users [team]       list users",
		"/reload [team]      refresh the directory",
		"/recap [#chan] [n]  replay recent history (default 5 minutes)",
		"/fetch N            download attachment N to the temp dir",
		"/alias [team] a...  set team aliases",
		"/debug [on|off]     toggle debug logging and id display",
		"/quit               disconnect and exit",
		"#team/chan text     send; #addr alone switches the current channel",
		";                   jump to the last channel a message arrived on",
	} {
		m.println(line)
	}
	return nil
}

func (m *Manager) cmdQuit(ctx context.Context) error {
	for _, s := range m.snapshotSessions() {
		_ = s.Disconnect(ctx)
	}
	m.once.Do(func() { close(m.quit) })
	return nil
}

// ---------------------------------------------------------------
// Inbound merge + rendering
// ---------------------------------------------------------------

func (m *Manager) loop() {
	for {
		select {
		case ev := <-m.events:
			m.handleEvent(&ev)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) handleEvent(ev *models.MessageEvent) {
	if ev.Kind == models.EventSystem {
		m.println(ev.Text)
		return
	}

	// Echoes of our own sends (stream acks, local poll echo) do not move the
	// last-received cursor; ";" means "where someone else last spoke".
	own := false
	if s := m.sessionByKey(ev.TeamKey); s != nil && ev.UserID == s.SelfUserID() {
		own = true
	}
	if !own {
		m.mu.Lock()
		m.lastReceived = address.Cursor{TeamKey: ev.TeamKey, ChannelID: ev.ChannelID}
		m.mu.Unlock()
	}

	for _, line := range m.render(ev, false) {
		m.println(line)
	}
}

// render formats one event for display, registering its attachments in the
// fetch ring. withTime adds the short timestamp recap lines carry.
func (m *Manager) render(ev *models.MessageEvent, withTime bool) []string {
	s := m.sessionByKey(ev.TeamKey)

	team, channel, user := ev.TeamKey, ev.ChannelID, ev.UserID
	if s != nil {
		team = m.shortName(s)
		snap := s.Cache().Snapshot()
		if ch, ok := snap.Channels[ev.ChannelID]; ok {
			channel = ch.Name
		}
		if u, ok := snap.Users[ev.UserID]; ok {
			user = u.Name
		}
	}

	head := "[" + team + "/" + channel + "] "
	if withTime {
		head += "(" + shortStamp(ev.Timestamp) + ") "
	}

	marker := ""
	switch ev.Kind {
	case models.EventEdited:
		marker = " (edit)"
	case models.EventDeleted:
		marker = " (del)"
	}

	body := strings.Split(ev.Text, "\n")
	lines := make([]string, 0, len(body)+len(ev.Attachments))
	lines = append(lines, head+user+": "+body[0])
	for _, cont := range body[1:] {
		lines = append(lines, "... "+cont)
	}
	lines[len(lines)-1] += marker

	for i, att := range ev.Attachments {
		n := m.ringAdd(ev, i)
		lines = append(lines, fmt.Sprintf("..> [%d] %s (%s)", n, att.Name, humanSize(att.Size)))
	}
	return lines
}

// ringAdd registers one attachment and returns its monotonic fetch number.
// Only the newest 16 stay fetchable.
func (m *Manager) ringAdd(ev *models.MessageEvent, index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringSeq++
	m.ring = append(m.ring, ringEntry{seq: m.ringSeq, teamKey: ev.TeamKey, ev: *ev, index: index})
	if len(m.ring) > ringSize {
		m.ring = m.ring[len(m.ring)-ringSize:]
	}
	return m.ringSeq
}

// shortName is the team's display handle: first alias if one is set.
func (m *Manager) shortName(s *session.Session) string {
	if aliases := s.Aliases(); len(aliases) > 0 {
		return aliases[0]
	}
	return s.Name()
}

func shortStamp(t time.Time) string {
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
