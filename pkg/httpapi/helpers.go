package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/backkem/localtalk/pkg/security"
)

func errNotFound(path string) error {
	return fmt.Errorf("no route matches %s", path)
}

func errMethodNotAllowed(method string) error {
	return fmt.Errorf("method %s not allowed for this route", method)
}

func errBlocked(level security.Level) error {
	return fmt.Errorf("request blocked by security analyzer (%s)", level)
}

func errReplay(reason string) error {
	return fmt.Errorf("replay detected: %s", reason)
}

// splitHostPort wraps net.SplitHostPort so remoteAddr can fall back
// gracefully when RemoteAddr has no port (as in some test transports).
func splitHostPort(addr string) (string, string, error) {
	return net.SplitHostPort(addr)
}

// newBodyReader lets a handler re-read the body ServeHTTP already
// consumed for security/replay screening.
func newBodyReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}
