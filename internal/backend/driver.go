package backend

import (
	"context"
	"time"

	"github.com/lalith-99/crosstalk/internal/models"
)

// Why context.Context as the first parameter on every method?
//
//   - Everything here touches the network: OAuth waits, websocket dials,
//     history fetches. Context carries the bounded timeouts the session
//     imposes, and cancellation when the client shuts down mid-call.
//   - Rule of thumb in Go: if a function touches the network, it takes ctx.

// AuthRequest parameterizes an interactive or static authorization.
type AuthRequest struct {
	ClientID     string
	ClientSecret string
	// RedirectPort is the fixed local port the redirect listener binds.
	RedirectPort string
	// Host is the poll backend's server hostname ("chat.example.com").
	Host string
	// StaticToken, when non-empty, skips the browser flow entirely and
	// validates a pre-supplied personal access token (poll backend only).
	StaticToken string
	// Timeout bounds the wait for the browser redirect.
	Timeout time.Duration
	// Notify receives progress lines for the user ("Visit this URL: ...").
	// May be nil.
	Notify func(string)
}

// Driver is the capability contract every backend implements. One Driver
// instance is bound to (at most) one team for the Team Session's lifetime;
// the variant is selected at authorization time and never changes.
//
// The contract deliberately hides the wire protocol: the session layer above
// it cannot tell a websocket push backend from a RESTful polling one except
// through the optional StreamDriver interface below.
type Driver interface {
	Kind() models.BackendKind

	// Authorize performs the authorization handshake and returns a
	// credential. It may start the local redirect listener and block until
	// the callback arrives or req.Timeout elapses. Failures come back as
	// *AuthError; the sentinel causes (ErrMissingAppCredential,
	// ErrStateMismatch, ErrTimeout) are recoverable with errors.Is.
	Authorize(ctx context.Context, req AuthRequest) (*models.Credential, error)

	// Connect establishes the live connection (stream) or validates the
	// credential (poll). Idempotent: connecting while connected is a no-op.
	Connect(ctx context.Context, cred *models.Credential) error

	// Disconnect releases the connection. It always succeeds; subsequent
	// sends fail with ErrNotConnected until Connect is called again.
	Disconnect(ctx context.Context) error

	// SendMessage delivers text to a channel, preserving the newline
	// structure of the input. Bounded by a write timeout; never blocks
	// indefinitely.
	SendMessage(ctx context.Context, channelID, text string) error

	// FetchDirectory returns the full current channel and user lists.
	// Used for /reload and for resolving provisional entries.
	FetchDirectory(ctx context.Context) ([]models.Channel, []models.User, error)

	// FetchHistory returns the channel's message events between since and
	// until, in chronological order. Stateless between calls.
	FetchHistory(ctx context.Context, channelID string, since, until time.Time) ([]models.MessageEvent, error)

	// FetchAttachment retrieves the payload of the index-th attachment of a
	// previously seen event. Unknown index fails with ErrNotFound.
	FetchAttachment(ctx context.Context, ev *models.MessageEvent, index int) ([]byte, error)
}

// StreamDriver is implemented by backends that push events over a
// persistent connection. The Team Session subscribes to Events for as long
// as the connection is live; the channel is closed when the transport drops,
// after a final EventSystem notice describing the loss.
type StreamDriver interface {
	Driver
	Events() <-chan models.MessageEvent
}
