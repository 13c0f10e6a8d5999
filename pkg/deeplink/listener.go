package deeplink

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

// Listener is a loopback HTTP fallback for hosts without custom URI-scheme
// registration. It serves a single callback, renders a landing page telling
// the user to return to the application, and shuts down.
type Listener struct {
	addr string
	log  *zap.Logger

	srv  *http.Server
	ln   net.Listener
	once sync.Once
	ch   chan Callback
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithAddr overrides the listen address (default localhost with an ephemeral port).
func WithAddr(addr string) ListenerOption {
	return func(l *Listener) { l.addr = addr }
}

// WithListenerLogger attaches a logger.
func WithListenerLogger(log *zap.Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// NewListener creates an unstarted loopback listener.
func NewListener(opts ...ListenerOption) *Listener {
	l := &Listener{
		addr: "localhost:0",
		log:  zap.NewNop(),
		ch:   make(chan Callback, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the loopback port and begins serving. The listener stops when
// ctx is cancelled or after the first callback is delivered.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}
	l.ln = ln

	r := chi.NewRouter()
	r.Get("/callback", l.handleCallback)

	l.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Warn("callback listener stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	l.log.Debug("callback listener started", zap.String("url", l.URL()))
	return nil
}

// URL returns the redirect URI served by this listener.
func (l *Listener) URL() string {
	return fmt.Sprintf("http://%s/callback", l.ln.Addr().String())
}

// Wait blocks until a callback arrives or ctx is cancelled.
func (l *Listener) Wait(ctx context.Context) (*Callback, error) {
	select {
	case cb := <-l.ch:
		return &cb, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no callback received: %w", ctx.Err())
	}
}

// Close shuts the listener down.
func (l *Listener) Close() {
	if l.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.srv.Shutdown(shutdownCtx)
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	state := r.URL.Query().Get("state")

	if token == "" {
		http.Error(w, "Missing token parameter", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingPage().Render(w); err != nil {
		l.log.Warn("failed to render landing page", zap.Error(err))
	}

	l.once.Do(func() {
		l.ch <- Callback{Token: token, State: state}
	})
}

// landingPage is what the browser shows after the redirect; the actual
// outcome is decided by the application, not here.
func landingPage() g.Node {
	return h.Doctype(
		h.HTML(
			h.Lang("en"),
			h.Head(
				h.TitleEl(g.Text("Signing you in")),
				h.StyleEl(g.Raw(`
					body { font-family: sans-serif; text-align: center; padding: 50px; background: #f5f5f5; }
					.card { background: white; padding: 40px; border-radius: 8px; max-width: 480px; margin: 0 auto;
					        box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
					h1 { color: #4CAF50; }
					p { color: #666; }
				`)),
			),
			h.Body(
				h.Div(h.Class("card"),
					h.H1(g.Text("Almost there")),
					h.P(g.Text("You can close this window and return to the application.")),
				),
			),
		),
	)
}
