package pkceflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leonaii/kirocloud/internal/logging"
)

const callbackPath = "/oauth/callback/kiro"

// CallbackResult is one redirect delivered to the loopback listener.
type CallbackResult struct {
	Code  string
	State string
	Err   string
}

// CallbackServer is the loopback stand-in for the custom URI scheme: the
// deep-link flow points redirect_uri at it when the scheme is not
// registered with the OS.
type CallbackServer struct {
	port    int
	addr    string
	log     *logging.Logger
	srv     *http.Server
	results chan CallbackResult
}

// NewCallbackServer prepares a listener on 127.0.0.1:port.
func NewCallbackServer(port int, logger *logging.Logger) *CallbackServer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &CallbackServer{
		port:    port,
		log:     logger.Component("callback"),
		results: make(chan CallbackResult, 1),
	}
}

// RedirectURI is the value to place in the login URL. Accurate for
// port 0 only after Start has bound the listener.
func (s *CallbackServer) RedirectURI() string {
	if s.addr != "" {
		return fmt.Sprintf("http://%s%s", s.addr, callbackPath)
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.port, callbackPath)
}

// Start binds the loopback port and serves in the background.
func (s *CallbackServer) Start() error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(callbackPath, s.handleCallback)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("bind callback listener: %w", err)
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: engine, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("callback listener stopped", "error", err.Error())
		}
	}()
	s.log.Info("callback listener started", "addr", ln.Addr().String())
	return nil
}

func (s *CallbackServer) handleCallback(c *gin.Context) {
	result := CallbackResult{
		Code:  c.Query("code"),
		State: c.Query("state"),
		Err:   c.Query("error"),
	}
	select {
	case s.results <- result:
	default:
		// A callback already landed; later hits are stragglers.
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, "<html><body><p>Sign-in received. You can close this window.</p></body></html>")
}

// Wait blocks until a callback arrives or ctx ends.
func (s *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	case res := <-s.results:
		return res, nil
	}
}

// Shutdown stops the listener.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
