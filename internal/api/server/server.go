package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// New builds the API server. Only header and idle timeouts are bounded
// here: the sync and notification endpoints hijack their connections on
// upgrade, and the hubs own the read and write deadlines after that.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}
