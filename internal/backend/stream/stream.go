// Package stream implements the push-style Backend Driver: a REST surface
// for bootstrap calls (authorization, directory, history) plus one
// long-lived websocket per team over which the backend pushes events.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/crosstalk/internal/auth"
	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/models"
)

const (
	// DefaultAPIURL / DefaultAuthURL are the production endpoints; tests
	// point New at an httptest server instead.
	DefaultAPIURL  = "https://slack.com/api"
	DefaultAuthURL = "https://slack.com/oauth/authorize"

	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// Driver is one team's stream backend. Safe for concurrent use; the
// websocket read loop runs on its own goroutine and feeds Events().
type Driver struct {
	apiURL  string
	authURL string
	httpc   *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	cred     *models.Credential
	conn     *websocket.Conn
	events   chan models.MessageEvent
	stopPing chan struct{}
	sendSeq  int
	inFlight map[int]outMessage

	// id→display name and the reverse, refreshed by FetchDirectory. Used
	// to decode <@UID> references inbound and encode @name outbound.
	nameByID map[string]string
	idByName map[string]string
}

type outMessage struct {
	Type    string `json:"type"`
	ID      int    `json:"id"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func New(apiURL, authURL string, log *zap.Logger) *Driver {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	return &Driver{
		apiURL:   apiURL,
		authURL:  authURL,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		log:      log,
		inFlight: map[int]outMessage{},
		nameByID: map[string]string{},
		idByName: map[string]string{},
	}
}

func (d *Driver) Kind() models.BackendKind { return models.KindStream }

// ---------------------------------------------------------------
// Wire envelope. Every REST response carries ok/error.
// ---------------------------------------------------------------

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type respMetadata struct {
	NextCursor string `json:"next_cursor"`
}

// call POSTs a form-encoded API method and decodes the JSON reply into out,
// which must embed envelope. A response with ok=false is an error.
func (d *Driver) call(ctx context.Context, method, token string, form url.Values, out interface{ env() *envelope }) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.apiURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if e := out.env(); !e.OK {
		return &apiError{method: method, code: e.Error}
	}
	return nil
}

func (e *envelope) env() *envelope { return e }

// apiError is an ok=false API reply; code is the backend's error token
// ("invalid_auth", "channel_not_found").
type apiError struct {
	method string
	code   string
}

func (e *apiError) Error() string { return e.method + ": " + e.code }

// authFailure reports whether the code means the token itself was rejected,
// as opposed to the call failing for some other reason.
func (e *apiError) authFailure() bool {
	switch e.code {
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
		return true
	}
	return false
}

// ---------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------

type oauthAccessResponse struct {
	envelope
	AccessToken string `json:"access_token"`
	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name"`
	UserID      string `json:"user_id"`
}

type userInfoResponse struct {
	envelope
	User wireUser `json:"user"`
}

// Authorize runs the browser OAuth flow: print the URL, wait on the local
// redirect listener for the code, exchange it for a permanent token, then
// fetch the user's name for the token file entry.
func (d *Driver) Authorize(ctx context.Context, req backend.AuthRequest) (*models.Credential, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		return nil, &backend.AuthError{Err: backend.ErrMissingAppCredential}
	}

	state := auth.NewState()
	authURL, _, err := auth.BuildAuthURL(d.authURL, req.ClientID, req.RedirectPort, state,
		url.Values{"scope": {"client"}})
	if err != nil {
		return nil, &backend.AuthError{Err: err}
	}
	if req.Notify != nil {
		req.Notify("Visit this URL to authenticate:\n\n" + authURL + "\n")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, err := auth.WaitForCode(waitCtx, req.RedirectPort, state)
	if err != nil {
		return nil, &backend.AuthError{Err: err}
	}
	if req.Notify != nil {
		req.Notify("Authentication response received.")
	}

	var access oauthAccessResponse
	err = d.call(ctx, "oauth.access", "", url.Values{
		"client_id":     {req.ClientID},
		"client_secret": {req.ClientSecret},
		"code":          {code},
	}, &access)
	if err != nil {
		return nil, &backend.AuthError{Err: err}
	}
	if access.TeamID == "" || access.AccessToken == "" {
		return nil, &backend.AuthError{Err: fmt.Errorf("oauth.access response incomplete")}
	}

	cred := &models.Credential{
		Kind:        models.KindStream,
		TeamID:      access.TeamID,
		TeamName:    access.TeamName,
		UserID:      access.UserID,
		AccessToken: access.AccessToken,
		ExpiresAt:   auth.ExpiryHint(access.AccessToken),
	}

	var info userInfoResponse
	err = d.call(ctx, "users.info", cred.AccessToken,
		url.Values{"user": {cred.UserID}}, &info)
	if err != nil {
		return nil, &backend.AuthError{Team: cred.TeamName, Err: err}
	}
	cred.UserName = info.User.displayName()

	return cred, nil
}

// ---------------------------------------------------------------
// Connect / Disconnect / Events
// ---------------------------------------------------------------

type rtmConnectResponse struct {
	envelope
	URL string `json:"url"`
}

// Connect asks the REST surface for a websocket URL and dials it.
// Calling while already connected is a no-op.
func (d *Driver) Connect(ctx context.Context, cred *models.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}
	d.cred = cred

	var rtm rtmConnectResponse
	if err := d.call(ctx, "rtm.connect", cred.AccessToken, url.Values{}, &rtm); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.authFailure() {
			return &backend.AuthError{Team: cred.TeamName, Err: err}
		}
		return &backend.ConnectError{Team: cred.TeamName, Err: err}
	}
	if rtm.URL == "" {
		return &backend.ConnectError{Team: cred.TeamName, Err: fmt.Errorf("rtm.connect returned no url")}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rtm.URL, nil)
	if err != nil {
		return &backend.ConnectError{Team: cred.TeamName, Err: err}
	}

	d.conn = conn
	d.events = make(chan models.MessageEvent, 64)
	d.stopPing = make(chan struct{})
	go d.pingLoop(conn, d.stopPing)
	go d.readLoop(conn, d.events)
	return nil
}

// Disconnect closes the socket. The read loop notices, emits a final
// system notice, and closes the event channel. Always succeeds.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *Driver) closeLocked() {
	if d.conn == nil {
		return
	}
	close(d.stopPing)
	d.conn.Close()
	d.conn = nil
	for id := range d.inFlight {
		delete(d.inFlight, id)
	}
}

// Events returns the inbound feed of the current connection. Valid after
// Connect; closed when the transport drops.
func (d *Driver) Events() <-chan models.MessageEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

func (d *Driver) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// wireEvent is the union of every inbound websocket frame we care about.
// Channel and User stay raw because the protocol overloads them: a plain id
// string on message events, a full object on channel_created / team_join.
type wireEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Channel json.RawMessage `json:"channel"`
	User    json.RawMessage `json:"user"`
	Text    string          `json:"text"`
	TS      string          `json:"ts"`

	ReplyTo int  `json:"reply_to"`
	OK      bool `json:"ok"`

	Message         *wirePostedMessage `json:"message"`
	PreviousMessage *wirePostedMessage `json:"previous_message"`
	Files           []wireFile         `json:"files"`
}

// rawString decodes a RawMessage that holds a JSON string; anything else
// (object, absent) comes back empty.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

type wirePostedMessage struct {
	User  string     `json:"user"`
	Text  string     `json:"text"`
	TS    string     `json:"ts"`
	Files []wireFile `json:"files"`
}

type wireFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	URLPrivate string `json:"url_private"`
}

func (d *Driver) readLoop(conn *websocket.Conn, events chan models.MessageEvent) {
	teamName := ""
	if d.cred != nil {
		teamName = d.cred.TeamName
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Transport gone. Tell the session, then end the feed. The
			// session decides what state to move to; we never reconnect
			// on our own.
			d.mu.Lock()
			wasOpen := d.conn == conn
			if wasOpen {
				d.closeLocked()
			}
			d.mu.Unlock()
			if wasOpen {
				events <- models.MessageEvent{
					Kind: models.EventSystem,
					Text: fmt.Sprintf("<Connection lost: %s (%v)>", teamName, err),
				}
			}
			close(events)
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.log.Debug("undecodable frame", zap.ByteString("raw", raw))
			continue
		}
		if out, ok := d.translate(&ev); ok {
			events <- out
		}
	}
}

// translate maps one wire event to a display event. Unhandled types are
// logged at debug and dropped.
func (d *Driver) translate(ev *wireEvent) (models.MessageEvent, bool) {
	switch {
	case ev.Type == "hello":
		return models.MessageEvent{
			Kind: models.EventSystem,
			Text: fmt.Sprintf("<Connected: %s>", d.credTeamName()),
		}, true

	case ev.Type == "" && ev.ReplyTo != 0:
		// Ack for a message we sent; echo it as a normal line.
		d.mu.Lock()
		orig, ok := d.inFlight[ev.ReplyTo]
		if ok {
			delete(d.inFlight, ev.ReplyTo)
		}
		userID := ""
		if d.cred != nil {
			userID = d.cred.UserID
		}
		d.mu.Unlock()
		if !ok || !ev.OK {
			return models.MessageEvent{}, false
		}
		return models.MessageEvent{
			ChannelID: orig.Channel,
			UserID:    userID,
			Kind:      models.EventPosted,
			Text:      d.DecodeText(ev.Text),
			Timestamp: time.Now(),
		}, true

	case ev.Type == "message" && ev.Subtype == "message_changed":
		if ev.Message == nil || ev.PreviousMessage == nil {
			return models.MessageEvent{}, false
		}
		oldText := d.DecodeText(ev.PreviousMessage.Text)
		newText := d.DecodeText(ev.Message.Text)
		if oldText == newText {
			// Attachment-preview churn, not a real edit.
			return models.MessageEvent{}, false
		}
		return models.MessageEvent{
			ChannelID:   rawString(ev.Channel),
			UserID:      ev.Message.User,
			Kind:        models.EventEdited,
			Text:        newText,
			Prior:       oldText,
			Timestamp:   parseTS(ev.Message.TS),
			Attachments: toAttachments(ev.Message.Files),
		}, true

	case ev.Type == "message" && ev.Subtype == "message_deleted":
		if ev.PreviousMessage == nil {
			return models.MessageEvent{}, false
		}
		return models.MessageEvent{
			ChannelID: rawString(ev.Channel),
			UserID:    ev.PreviousMessage.User,
			Kind:      models.EventDeleted,
			Text:      d.DecodeText(ev.PreviousMessage.Text),
			Timestamp: parseTS(ev.TS),
		}, true

	case ev.Type == "message":
		return models.MessageEvent{
			ChannelID:   rawString(ev.Channel),
			UserID:      rawString(ev.User),
			Kind:        models.EventPosted,
			Text:        d.DecodeText(ev.Text),
			Timestamp:   parseTS(ev.TS),
			Attachments: toAttachments(ev.Files),
		}, true

	case ev.Type == "channel_created", ev.Type == "channel_joined", ev.Type == "im_created":
		var ch wireChannel
		if err := json.Unmarshal(ev.Channel, &ch); err != nil || ch.ID == "" {
			return models.MessageEvent{}, false
		}
		nc := &models.Channel{
			ID:          ch.ID,
			Name:        ch.Name,
			Kind:        models.ChannelPublic,
			Member:      ev.Type == "channel_joined",
			Provisional: true,
		}
		if ch.IsPrivate {
			nc.Kind = models.ChannelPrivate
		}
		if ev.Type == "im_created" {
			nc.Kind = models.ChannelDM
			nc.PeerUserID = ch.User
			nc.Member = true
			d.mu.Lock()
			if name, ok := d.nameByID[ch.User]; ok {
				nc.Name = "@" + name
			} else {
				nc.Name = "@" + ch.User
			}
			d.mu.Unlock()
		}
		return models.MessageEvent{Kind: models.EventSystem, ChannelID: ch.ID, NewChannel: nc}, true

	case ev.Type == "team_join":
		var u wireUser
		if err := json.Unmarshal(ev.User, &u); err != nil || u.ID == "" {
			return models.MessageEvent{}, false
		}
		name := u.displayName()
		d.mu.Lock()
		d.nameByID[u.ID] = name
		d.idByName[name] = u.ID
		d.mu.Unlock()
		return models.MessageEvent{
			Kind:   models.EventSystem,
			UserID: u.ID,
			NewUser: &models.User{
				ID:          u.ID,
				Name:        name,
				RealName:    u.Profile.RealName,
				Provisional: true,
			},
		}, true

	default:
		d.log.Debug("unhandled event type", zap.String("type", ev.Type))
		return models.MessageEvent{}, false
	}
}

func (d *Driver) credTeamName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cred == nil {
		return "???"
	}
	return d.cred.TeamName
}

// ---------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------

// SendMessage writes a message frame on the socket. Newlines in text pass
// through untouched (the escape step only rewrites &, <, > and @refs).
func (d *Driver) SendMessage(ctx context.Context, channelID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	team := "???"
	if d.cred != nil {
		team = d.cred.TeamName
	}
	if d.conn == nil {
		return &backend.SendError{Team: team, Err: backend.ErrNotConnected}
	}

	d.sendSeq++
	msg := outMessage{
		Type:    "message",
		ID:      d.sendSeq,
		Channel: channelID,
		Text:    d.EncodeText(text),
	}
	d.inFlight[msg.ID] = msg

	d.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	if err := d.conn.WriteJSON(msg); err != nil {
		delete(d.inFlight, msg.ID)
		return &backend.SendError{Team: team, Err: err}
	}
	return nil
}

// ---------------------------------------------------------------
// FetchDirectory
// ---------------------------------------------------------------

type wireUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
	} `json:"profile"`
}

func (u *wireUser) displayName() string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	return u.Name // legacy data field
}

type usersListResponse struct {
	envelope
	Members          []wireUser   `json:"members"`
	ResponseMetadata respMetadata `json:"response_metadata"`
}

type wireChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	IsMember  bool   `json:"is_member"`
	User      string `json:"user"` // im channels: the peer
}

type convListResponse struct {
	envelope
	Channels         []wireChannel `json:"channels"`
	ResponseMetadata respMetadata  `json:"response_metadata"`
}

// FetchDirectory pulls the full user and channel lists, paging by cursor.
// DM channels come from a separate listing and are named "@peer".
func (d *Driver) FetchDirectory(ctx context.Context) ([]models.Channel, []models.User, error) {
	d.mu.Lock()
	cred := d.cred
	d.mu.Unlock()
	if cred == nil {
		return nil, nil, &backend.FetchError{Team: "???", What: "directory", Err: backend.ErrNotConnected}
	}

	var users []models.User
	nameByID := map[string]string{}
	idByName := map[string]string{}

	cursor := ""
	for {
		var res usersListResponse
		form := url.Values{}
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		if err := d.call(ctx, "users.list", cred.AccessToken, form, &res); err != nil {
			return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
		}
		for _, m := range res.Members {
			name := m.displayName()
			users = append(users, models.User{
				ID:       m.ID,
				Name:     name,
				RealName: m.Profile.RealName,
			})
			nameByID[m.ID] = name
			idByName[name] = m.ID
		}
		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}

	var channels []models.Channel

	cursor = ""
	for {
		var res convListResponse
		form := url.Values{
			"exclude_archived": {"true"},
			"types":            {"public_channel,private_channel"},
		}
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		if err := d.call(ctx, "conversations.list", cred.AccessToken, form, &res); err != nil {
			return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
		}
		for _, ch := range res.Channels {
			kind := models.ChannelPublic
			if ch.IsPrivate {
				kind = models.ChannelPrivate
			}
			channels = append(channels, models.Channel{
				ID:     ch.ID,
				Name:   ch.Name,
				Kind:   kind,
				Member: ch.IsMember,
			})
		}
		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}

	cursor = ""
	for {
		var res convListResponse
		form := url.Values{
			"exclude_archived": {"true"},
			"types":            {"im"},
		}
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		if err := d.call(ctx, "conversations.list", cred.AccessToken, form, &res); err != nil {
			return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
		}
		for _, ch := range res.Channels {
			peerName, known := nameByID[ch.User]
			if !known {
				continue
			}
			channels = append(channels, models.Channel{
				ID:         ch.ID,
				Name:       "@" + peerName,
				Kind:       models.ChannelDM,
				PeerUserID: ch.User,
				Member:     true,
			})
		}
		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}

	// Link users to their DM channels before handing the lists over.
	dmByPeer := map[string]string{}
	for _, ch := range channels {
		if ch.Kind == models.ChannelDM {
			dmByPeer[ch.PeerUserID] = ch.ID
		}
	}
	for i := range users {
		users[i].DMChannelID = dmByPeer[users[i].ID]
	}

	d.mu.Lock()
	d.nameByID = nameByID
	d.idByName = idByName
	d.mu.Unlock()

	return channels, users, nil
}

// ---------------------------------------------------------------
// FetchHistory
// ---------------------------------------------------------------

type historyResponse struct {
	envelope
	Messages         []wirePostedMessage `json:"messages"`
	ResponseMetadata respMetadata        `json:"response_metadata"`
}

// FetchHistory reads a bounded window of channel history, newest-first on
// the wire, returned chronologically.
func (d *Driver) FetchHistory(ctx context.Context, channelID string, since, until time.Time) ([]models.MessageEvent, error) {
	d.mu.Lock()
	cred := d.cred
	d.mu.Unlock()
	if cred == nil {
		return nil, &backend.FetchError{Team: "???", What: "history", Err: backend.ErrNotConnected}
	}

	var out []models.MessageEvent
	cursor := ""
	for {
		form := url.Values{
			"channel": {channelID},
			"oldest":  {strconv.FormatInt(since.Unix(), 10)},
		}
		if !until.IsZero() {
			form.Set("latest", strconv.FormatInt(until.Unix(), 10))
		}
		if cursor != "" {
			form.Set("cursor", cursor)
		}
		var res historyResponse
		if err := d.call(ctx, "conversations.history", cred.AccessToken, form, &res); err != nil {
			return nil, &backend.FetchError{Team: cred.TeamName, What: "history", Err: err}
		}
		// Each page is newest-first; prepend so the final slice is oldest-first.
		page := make([]models.MessageEvent, 0, len(res.Messages))
		for i := len(res.Messages) - 1; i >= 0; i-- {
			m := res.Messages[i]
			page = append(page, models.MessageEvent{
				ChannelID:   channelID,
				UserID:      m.User,
				Kind:        models.EventPosted,
				Text:        d.DecodeText(m.Text),
				Timestamp:   parseTS(m.TS),
				Attachments: toAttachments(m.Files),
			})
		}
		out = append(page, out...)
		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------
// FetchAttachment
// ---------------------------------------------------------------

// FetchAttachment downloads the index-th file of an event via its private
// URL, authenticated with the team token.
func (d *Driver) FetchAttachment(ctx context.Context, ev *models.MessageEvent, index int) ([]byte, error) {
	d.mu.Lock()
	cred := d.cred
	d.mu.Unlock()
	if cred == nil {
		return nil, &backend.FetchError{Team: "???", What: "attachment", Err: backend.ErrNotConnected}
	}
	if index < 0 || index >= len(ev.Attachments) {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: backend.ErrNotFound}
	}

	att := ev.Attachments[index]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: backend.ErrNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment",
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	dat, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: err}
	}
	return dat, nil
}

// ---------------------------------------------------------------
// Text codec
// ---------------------------------------------------------------

// DecodeText converts wire-format message text to display form: &-escapes
// unwound, <@UID> references replaced with @name where the id is known.
func (d *Driver) DecodeText(val string) string {
	d.mu.Lock()
	names := d.nameByID
	d.mu.Unlock()

	var b strings.Builder
	for {
		i := strings.Index(val, "<@")
		if i < 0 {
			b.WriteString(val)
			break
		}
		j := strings.Index(val[i:], ">")
		if j < 0 {
			b.WriteString(val)
			break
		}
		b.WriteString(val[:i])
		id := val[i+2 : i+j]
		if name, ok := names[id]; ok {
			b.WriteString("@" + name)
		} else {
			b.WriteString("@" + id)
		}
		val = val[i+j+1:]
	}

	out := b.String()
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	out = strings.ReplaceAll(out, "&amp;", "&")
	return out
}

// EncodeText converts a human-typed message to wire form. @name references
// that exactly match a known display name become <@UID>; anything else is
// left alone.
func (d *Driver) EncodeText(val string) string {
	d.mu.Lock()
	ids := d.idByName
	d.mu.Unlock()

	val = strings.ReplaceAll(val, "&", "&amp;")
	val = strings.ReplaceAll(val, "<", "&lt;")
	val = strings.ReplaceAll(val, ">", "&gt;")

	var b strings.Builder
	for {
		i := strings.Index(val, "@")
		if i < 0 {
			b.WriteString(val)
			break
		}
		b.WriteString(val[:i])
		rest := val[i+1:]
		end := len(rest)
		for k, r := range rest {
			if !isNameRune(r) {
				end = k
				break
			}
		}
		name := rest[:end]
		if id, ok := ids[name]; ok && name != "" {
			b.WriteString("<@" + id + ">")
		} else {
			b.WriteString("@" + name)
		}
		val = rest[end:]
	}
	return b.String()
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// parseTS converts a "1526150036.000002"-style timestamp.
func parseTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func toAttachments(files []wireFile) []models.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		out = append(out, models.Attachment{
			FileID: f.ID,
			Name:   f.Name,
			Size:   f.Size,
			URL:    f.URLPrivate,
		})
	}
	return out
}
