package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// DialPush opens a websocket to a push endpoint, passing the auth token as
// a query parameter (header injection is not available on this class of
// channel). The timeout bounds the whole handshake and a timed-out dial
// counts as a failed connection attempt.
//
// Shared by the sync transport and the notification surface so both
// channels reconnect with identical machinery.
func DialPush(ctx context.Context, rawURL, token string, timeout time.Duration) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}

	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	return conn, nil
}
