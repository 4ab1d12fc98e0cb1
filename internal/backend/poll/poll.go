// Package poll implements the request/response Backend Driver. There is no
// persistent event connection: history and directory are fetched on demand,
// and "connected" means exactly "the credential validated against the
// server". This is the quiet half of the client: nothing arrives unless
// asked for (/recap, /reload).
package poll

import (
	"bytes"
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

	"go.uber.org/zap"

	"github.com/lalith-99/crosstalk/internal/auth"
	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/models"
)

const perPage = 200

// Driver is one host's poll backend. The host plays the role of the team:
// its id is the hostname.
type Driver struct {
	// scheme is "https" in production; tests override it together with
	// hostOverride to aim at an httptest server.
	scheme       string
	hostOverride string
	httpc        *http.Client
	log          *zap.Logger

	mu        sync.Mutex
	cred      *models.Credential
	connected bool
}

func New(log *zap.Logger) *Driver {
	return &Driver{
		scheme: "https",
		httpc:  &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// NewForTest aims every request at addr (an httptest server's host:port)
// over plain http, whatever host the credential names.
func NewForTest(addr string, log *zap.Logger) *Driver {
	d := New(log)
	d.scheme = "http"
	d.hostOverride = addr
	return d
}

func (d *Driver) Kind() models.BackendKind { return models.KindPoll }

func (d *Driver) baseURL(host string) string {
	if d.hostOverride != "" {
		host = d.hostOverride
	}
	return d.scheme + "://" + host
}

// call performs one API round trip. Methods are paths under /api/v4/.
// Error replies come back as {"status_code":..,"message":".."} with a
// non-2xx status, which we surface as an error.
func (d *Driver) call(ctx context.Context, host, httpMethod, method, token string, query url.Values, body, out any) error {
	u := d.baseURL(host) + "/api/v4/" + method
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		dat, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", method, err)
		}
		rd = bytes.NewReader(dat)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, u, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	dat, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Message string `json:"message"`
		}
		// Errors sometimes arrive as text/plain; fall back to the raw body.
		if json.Unmarshal(dat, &body) != nil || body.Message == "" {
			body.Message = fmt.Sprintf("%.80s", string(dat))
		}
		return &apiError{method: method, status: resp.StatusCode, message: body.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(dat, out); err != nil {
		return fmt.Errorf("%s: non-JSON response: %.80s", method, string(dat))
	}
	return nil
}

// apiError is a non-2xx API reply.
type apiError struct {
	method  string
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.method, e.status, e.message)
}

// authFailure reports whether the status means the token was rejected.
func (e *apiError) authFailure() bool {
	return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
}

// ---------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------

type accessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type wireMe struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Authorize supports two modes. With req.StaticToken set, the token is a
// pre-supplied personal access token and no browser round trip happens.
// Otherwise it is the same browser OAuth dance as the stream backend,
// against the host named in req.Host.
func (d *Driver) Authorize(ctx context.Context, req backend.AuthRequest) (*models.Credential, error) {
	if req.Host == "" {
		return nil, &backend.AuthError{Err: fmt.Errorf("a host name is required")}
	}

	token := req.StaticToken
	refresh := ""
	var expires time.Time

	if token == "" {
		if req.ClientID == "" || req.ClientSecret == "" {
			return nil, &backend.AuthError{Err: backend.ErrMissingAppCredential}
		}

		state := auth.NewState()
		authURL, redirectURL, err := auth.BuildAuthURL(
			d.baseURL(req.Host)+"/oauth/authorize",
			req.ClientID, req.RedirectPort, state,
			url.Values{"response_type": {"code"}})
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

		var access accessTokenResponse
		err = d.call(ctx, req.Host, http.MethodPost, "oauth/access_token", "", nil, map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     req.ClientID,
			"client_secret": req.ClientSecret,
			"redirect_uri":  redirectURL,
			"code":          code,
		}, &access)
		if err != nil {
			return nil, &backend.AuthError{Err: err}
		}
		if access.AccessToken == "" {
			return nil, &backend.AuthError{Err: fmt.Errorf("access_token response was empty")}
		}
		token = access.AccessToken
		refresh = access.RefreshToken
		if access.ExpiresIn > 0 {
			expires = time.Now().Add(time.Duration(access.ExpiresIn) * time.Second)
		}
	}

	var me wireMe
	if err := d.call(ctx, req.Host, http.MethodGet, "users/me", token, nil, nil, &me); err != nil {
		return nil, &backend.AuthError{Team: req.Host, Err: err}
	}
	if me.ID == "" || me.Username == "" {
		return nil, &backend.AuthError{Team: req.Host, Err: fmt.Errorf("users/me response incomplete")}
	}

	if expires.IsZero() {
		expires = auth.ExpiryHint(token)
	}
	return &models.Credential{
		Kind:         models.KindPoll,
		TeamID:       req.Host,
		TeamName:     req.Host,
		UserID:       me.ID,
		UserName:     me.Username,
		Host:         req.Host,
		AccessToken:  token,
		RefreshToken: refresh,
		ExpiresAt:    expires,
	}, nil
}

// ---------------------------------------------------------------
// Connect / Disconnect
// ---------------------------------------------------------------

// Connect validates the credential with a users/me round trip. There is no
// transport to hold open; success just flips the connected flag.
func (d *Driver) Connect(ctx context.Context, cred *models.Credential) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var me wireMe
	if err := d.call(ctx, cred.Host, http.MethodGet, "users/me", cred.AccessToken, nil, nil, &me); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.authFailure() {
			return &backend.AuthError{Team: cred.TeamName, Err: err}
		}
		return &backend.ConnectError{Team: cred.TeamName, Err: err}
	}

	d.mu.Lock()
	d.cred = cred
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *Driver) snapshot() (*models.Credential, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cred, d.connected
}

// ---------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------

// SendMessage POSTs a post resource. Newlines pass through; only the
// HTML-ish escapes are applied.
func (d *Driver) SendMessage(ctx context.Context, channelID, text string) error {
	cred, ok := d.snapshot()
	if !ok {
		team := "???"
		if cred != nil {
			team = cred.TeamName
		}
		return &backend.SendError{Team: team, Err: backend.ErrNotConnected}
	}
	err := d.call(ctx, cred.Host, http.MethodPost, "posts", cred.AccessToken, nil, map[string]string{
		"channel_id": channelID,
		"message":    EncodeText(text),
	}, nil)
	if err != nil {
		return &backend.SendError{Team: cred.TeamName, Err: err}
	}
	return nil
}

// ---------------------------------------------------------------
// FetchDirectory
// ---------------------------------------------------------------

type wireSubteam struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type wireChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // O=open, P=private, D=direct
}

// FetchDirectory walks users (paged), then the member teams on the host,
// then each team's channels. A host may carry several teams; when it does,
// channel names are disambiguated with a "team/" prefix. DM channels use
// the host's "id1__id2" naming convention to find the peer.
func (d *Driver) FetchDirectory(ctx context.Context) ([]models.Channel, []models.User, error) {
	cred, _ := d.snapshot()
	if cred == nil {
		return nil, nil, &backend.FetchError{Team: "???", What: "directory", Err: backend.ErrNotConnected}
	}

	var users []models.User
	userNames := map[string]string{}
	for page := 0; ; page++ {
		var batch []wireMe
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
		if err := d.call(ctx, cred.Host, http.MethodGet, "users", cred.AccessToken, q, nil, &batch); err != nil {
			return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
		}
		if len(batch) == 0 {
			break
		}
		for _, u := range batch {
			real := strings.TrimSpace(u.FirstName + " " + u.LastName)
			users = append(users, models.User{ID: u.ID, Name: u.Username, RealName: real})
			userNames[u.ID] = u.Username
		}
		if len(batch) < perPage {
			break
		}
	}

	var subteams []wireSubteam
	if err := d.call(ctx, cred.Host, http.MethodGet, "users/me/teams", cred.AccessToken, nil, nil, &subteams); err != nil {
		return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
	}
	prefixed := len(subteams) > 1

	var channels []models.Channel
	seen := map[string]bool{}
	dmByPeer := map[string]string{}

	for _, sub := range subteams {
		var member []wireChannel
		err := d.call(ctx, cred.Host, http.MethodGet,
			"users/me/teams/"+sub.ID+"/channels", cred.AccessToken, nil, nil, &member)
		if err != nil {
			return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
		}
		for _, ch := range member {
			if seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true

			switch ch.Type {
			case "D":
				// DM channel names follow the "id1__id2" convention.
				peer, ok := dmPeer(ch.Name, cred.UserID)
				if !ok {
					continue
				}
				peerName, known := userNames[peer]
				if !known {
					continue
				}
				dmByPeer[peer] = ch.ID
				channels = append(channels, models.Channel{
					ID:         ch.ID,
					Name:       "@" + peerName,
					Kind:       models.ChannelDM,
					PeerUserID: peer,
					Member:     true,
				})
			case "P":
				channels = append(channels, models.Channel{
					ID:     ch.ID,
					Name:   displayName(sub, ch.Name, prefixed),
					Kind:   models.ChannelPrivate,
					Member: true,
				})
			default:
				channels = append(channels, models.Channel{
					ID:     ch.ID,
					Name:   displayName(sub, ch.Name, prefixed),
					Kind:   models.ChannelPublic,
					Member: true,
				})
			}
		}

		// Open channels we have not joined.
		for page := 0; ; page++ {
			var open []wireChannel
			q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
			err := d.call(ctx, cred.Host, http.MethodGet,
				"teams/"+sub.ID+"/channels", cred.AccessToken, q, nil, &open)
			if err != nil {
				return nil, nil, &backend.FetchError{Team: cred.TeamName, What: "directory", Err: err}
			}
			if len(open) == 0 {
				break
			}
			for _, ch := range open {
				if seen[ch.ID] || ch.Type != "O" {
					continue
				}
				seen[ch.ID] = true
				channels = append(channels, models.Channel{
					ID:     ch.ID,
					Name:   displayName(sub, ch.Name, prefixed),
					Kind:   models.ChannelPublic,
					Member: false,
				})
			}
			if len(open) < perPage {
				break
			}
		}
	}

	for i := range users {
		users[i].DMChannelID = dmByPeer[users[i].ID]
	}
	return channels, users, nil
}

func displayName(sub wireSubteam, name string, prefixed bool) string {
	if prefixed {
		return sub.Name + "/" + name
	}
	return name
}

// dmPeer extracts the other party from an "id1__id2" DM channel name.
func dmPeer(name, selfID string) (string, bool) {
	a, b, ok := strings.Cut(name, "__")
	if !ok {
		return "", false
	}
	if a == selfID {
		return b, true
	}
	if b == selfID {
		return a, true
	}
	return "", false
}

// ---------------------------------------------------------------
// FetchHistory
// ---------------------------------------------------------------

type wirePost struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	CreateAt  int64  `json:"create_at"` // milliseconds
	Metadata  struct {
		Files []wireFile `json:"files"`
	} `json:"metadata"`
}

type wireFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
}

type postsResponse struct {
	Order []string            `json:"order"`
	Posts map[string]wirePost `json:"posts"`
}

// FetchHistory asks for posts since a millisecond timestamp. The wire
// order is newest-first; we reverse it and clip to the until bound.
func (d *Driver) FetchHistory(ctx context.Context, channelID string, since, until time.Time) ([]models.MessageEvent, error) {
	cred, _ := d.snapshot()
	if cred == nil {
		return nil, &backend.FetchError{Team: "???", What: "history", Err: backend.ErrNotConnected}
	}

	q := url.Values{"since": {strconv.FormatInt(since.UnixMilli(), 10)}}
	var res postsResponse
	err := d.call(ctx, cred.Host, http.MethodGet, "channels/"+channelID+"/posts", cred.AccessToken, q, nil, &res)
	if err != nil {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "history", Err: err}
	}

	var out []models.MessageEvent
	for i := len(res.Order) - 1; i >= 0; i-- {
		post, ok := res.Posts[res.Order[i]]
		if !ok || post.Message == "" {
			continue
		}
		ts := time.UnixMilli(post.CreateAt)
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, models.MessageEvent{
			ChannelID:   channelID,
			UserID:      post.UserID,
			Kind:        models.EventPosted,
			Text:        DecodeText(post.Message),
			Timestamp:   ts,
			Attachments: toAttachments(post.Metadata.Files),
		})
	}
	return out, nil
}

// ---------------------------------------------------------------
// FetchAttachment
// ---------------------------------------------------------------

func (d *Driver) FetchAttachment(ctx context.Context, ev *models.MessageEvent, index int) ([]byte, error) {
	cred, _ := d.snapshot()
	if cred == nil {
		return nil, &backend.FetchError{Team: "???", What: "attachment", Err: backend.ErrNotConnected}
	}
	if index < 0 || index >= len(ev.Attachments) {
		return nil, &backend.FetchError{Team: cred.TeamName, What: "attachment", Err: backend.ErrNotFound}
	}
	att := ev.Attachments[index]

	u := d.baseURL(cred.Host) + "/api/v4/files/" + att.FileID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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

// EncodeText applies the backend's HTML-ish escaping to outgoing text.
func EncodeText(val string) string {
	val = strings.ReplaceAll(val, "&", "&amp;")
	val = strings.ReplaceAll(val, "<", "&lt;")
	val = strings.ReplaceAll(val, ">", "&gt;")
	return val
}

// DecodeText reverses EncodeText, plus the doubled-backslash quirk.
func DecodeText(val string) string {
	val = strings.ReplaceAll(val, "&lt;", "<")
	val = strings.ReplaceAll(val, "&gt;", ">")
	val = strings.ReplaceAll(val, "&amp;", "&")
	val = strings.ReplaceAll(val, `\\`, `\`)
	return val
}

func toAttachments(files []wireFile) []models.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = f.ID + "." + f.Extension
		}
		out = append(out, models.Attachment{FileID: f.ID, Name: name, Size: f.Size})
	}
	return out
}
