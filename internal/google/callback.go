package google

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// DefaultCallbackAddr binds the loopback listener on a random free port.
const DefaultCallbackAddr = "127.0.0.1:0"

// CallbackServer receives the OAuth redirect on a loopback address.
// It accepts exactly one callback. Requests carrying the wrong state are
// rejected without ending the wait.
type CallbackServer struct {
	mu            sync.Mutex
	addr          string
	expectedState string
	codeChan      chan string
	errChan       chan error
	server        *http.Server
	listener      net.Listener
}

// NewCallbackServer creates a callback server listening on addr once started.
func NewCallbackServer(addr, expectedState string) *CallbackServer {
	if addr == "" {
		addr = DefaultCallbackAddr
	}
	return &CallbackServer{
		addr:          addr,
		expectedState: expectedState,
		codeChan:      make(chan string, 1),
		errChan:       make(chan error, 1),
	}
}

// Start begins listening. When the address has port 0 a free port is chosen.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliverErr(err)
		}
	}()

	return nil
}

func (s *CallbackServer) deliverErr(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		s.deliverErr(&OAuthError{Code: errParam, Description: desc, Status: http.StatusOK})
		_, _ = fmt.Fprint(w, callbackHTML("Authorization failed", html.EscapeString(errParam)))
		return
	}

	if q.Get("state") != s.expectedState {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, callbackHTML("Authorization failed", "Invalid state parameter."))
		return
	}

	code := q.Get("code")
	if code == "" {
		s.deliverErr(fmt.Errorf("no authorization code received"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, callbackHTML("Authorization failed", "No authorization code received."))
		return
	}

	select {
	case s.codeChan <- code:
	default:
	}
	_, _ = fmt.Fprint(w, callbackHTML("Authorization successful", "You can close this window and return to JARVIS."))
}

// WaitForCode blocks until a code or error arrives, or ctx is done.
func (s *CallbackServer) WaitForCode(ctx context.Context) (string, error) {
	select {
	case code := <-s.codeChan:
		return code, nil
	case err := <-s.errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop shuts down the callback server.
func (s *CallbackServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// RedirectURI returns the redirect URI to register with the authorization request.
func (s *CallbackServer) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/callback", s.listener.Addr().String())
}

func callbackHTML(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>JARVIS - Google authorization</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 15vh;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>`, html.EscapeString(title), message)
}

// OpenBrowser opens the default browser at url.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
