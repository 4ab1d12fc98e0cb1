package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lalith-99/crosstalk/internal/backend"
)

// NewState mints the state nonce carried through an OAuth round trip.
func NewState() string {
	return "state-" + uuid.NewString()
}

// BuildAuthURL assembles the URL the user opens in a browser, and the
// redirect URL the backend sends them back to.
func BuildAuthURL(base, clientID, port, state string, extra url.Values) (authURL, redirectURL string, err error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parse auth url: %w", err)
	}
	redirectURL = fmt.Sprintf("http://localhost:%s/", port)
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURL)
	q.Set("state", state)
	for key, vals := range extra {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), redirectURL, nil
}

type callbackResult struct {
	code string
	err  error
}

// WaitForCode runs the local redirect listener for one authorization.
//
// It binds localhost:port, accepts exactly ONE inbound callback carrying
// ?code=...&state=..., validates the state nonce, shuts the server down,
// and returns the authorization code. The context's deadline bounds the
// whole wait; expiry fails with backend.ErrTimeout and a wrong or missing
// state fails with backend.ErrStateMismatch. Either way no partial
// credential exists afterward.
func WaitForCode(ctx context.Context, port, state string) (string, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Buffered so the handler never blocks if the waiter already gave up.
	results := make(chan callbackResult, 1)

	engine.GET("/", func(c *gin.Context) {
		code := c.Query("code")
		got := c.Query("state")

		var res callbackResult
		switch {
		case code == "":
			res.err = fmt.Errorf("callback carried no code: %w", backend.ErrStateMismatch)
		case got != state:
			res.err = backend.ErrStateMismatch
		default:
			res.code = code
		}

		// First callback wins; later hits get a flat answer.
		select {
		case results <- res:
		default:
			c.String(http.StatusGone, "Authorization already completed.")
			return
		}
		if res.err != nil {
			c.String(http.StatusBadRequest, "Authorization failed: %v", res.err)
			return
		}
		c.String(http.StatusOK, "Auth code received. You can close this tab.")
	})

	srv := &http.Server{Handler: engine}
	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", port))
	if err != nil {
		return "", fmt.Errorf("bind redirect listener: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer srv.Shutdown(context.Background()) //nolint:errcheck

	select {
	case res := <-results:
		if res.err != nil {
			return "", res.err
		}
		return res.code, nil
	case err := <-serveErr:
		return "", fmt.Errorf("redirect listener: %w", err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", backend.ErrTimeout
		}
		return "", ctx.Err()
	}
}
