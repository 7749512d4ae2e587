// Package webhook re-runs reconciliation when the modpack repository is
// pushed to. Deliveries are authenticated with the GitHub HMAC signature and
// coalesced so that a burst of pushes yields a single pass.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/modsync/internal/config"
	modsync "github.com/schaermu/modsync/internal/sync"
)

const (
	// settleDelay is how long pushes must stop arriving before a pass starts.
	settleDelay = 2 * time.Second

	maxPayloadBytes = 1 << 20

	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"

	eventPing = "ping"
)

// Push holds the fields of a push payload used for filtering and logging
type Push struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Runner performs one reconciliation pass
type Runner interface {
	Run(ctx context.Context) (*modsync.Result, error)
}

// delivery is an authenticated webhook request
type delivery struct {
	id    string
	event string
	body  []byte
}

// Server turns push deliveries into reconciliation passes
type Server struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger
	secret []byte

	// runCtx is handed to passes started by deliveries.
	runCtx context.Context

	passMu  sync.Mutex
	running bool
	rerun   bool

	pushes *coalescer
}

// NewServer creates a webhook server. The shared secret is read from
// cfg.Serve.GitHubWebhookSecretFile and must not be blank.
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger) (*Server, error) {
	path := cfg.Serve.GitHubWebhookSecretFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return nil, fmt.Errorf("webhook secret file %s is empty", path)
	}

	s := &Server{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		secret: []byte(secret),
		runCtx: context.Background(),
	}
	s.pushes = newCoalescer(settleDelay, func() { s.reconcile(s.runCtx) })
	return s, nil
}

// Handler returns the HTTP handler serving webhook deliveries.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveDelivery)
	return mux
}

// Start reconciles once so the folder is current before any push arrives,
// then serves deliveries on ln until ctx is canceled.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.runCtx = ctx
	s.logger.Info("running startup reconciliation")
	s.reconcile(ctx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	served := make(chan error, 1)
	go func() {
		s.logger.Info("listening for push deliveries", "addr", ln.Addr().String())
		served <- srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("stopping webhook server")
	s.pushes.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveDelivery answers one delivery. Pushes that pass the event and ref
// filters schedule a pass and get 202; filtered pushes get 200 with the
// reason so the GitHub delivery log shows why nothing happened.
func (s *Server) serveDelivery(w http.ResponseWriter, r *http.Request) {
	d, status, err := s.readDelivery(r)
	if err != nil {
		s.logger.Warn("rejecting delivery", "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	if d.event == eventPing {
		s.logger.Info("answering ping", "delivery", d.id)
		reply(w, http.StatusOK, "pong")
		return
	}

	if !allowed(s.cfg.Serve.AllowedEventTypes, d.event) {
		s.ignore(w, d, fmt.Sprintf("event %q does not trigger reconciliation", d.event))
		return
	}

	var push Push
	if err := json.Unmarshal(d.body, &push); err != nil {
		s.logger.Warn("rejecting malformed push payload", "delivery", d.id, "error", err)
		http.Error(w, "malformed push payload", http.StatusBadRequest)
		return
	}

	if !allowed(s.cfg.Serve.AllowedRefs, push.Ref) {
		s.ignore(w, d, fmt.Sprintf("ref %q is not tracked", push.Ref))
		return
	}

	s.logger.Info("push accepted",
		"delivery", d.id,
		"repo", push.Repository.FullName,
		"ref", push.Ref,
		"commit", push.After)
	s.pushes.poke()
	reply(w, http.StatusAccepted, "reconciliation scheduled")
}

// readDelivery checks method, content type and signature. On failure it
// returns the status to answer with.
func (s *Server) readDelivery(r *http.Request) (delivery, int, error) {
	if r.Method != http.MethodPost {
		return delivery{}, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		return delivery{}, http.StatusBadRequest, fmt.Errorf("content type %q not supported", ct)
	}

	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return delivery{}, http.StatusBadRequest, fmt.Errorf("failed to read payload: %w", err)
	}

	if !signedWith(s.secret, body, r.Header.Get(headerSignature)) {
		return delivery{}, http.StatusForbidden, errors.New("signature mismatch")
	}

	return delivery{
		id:    r.Header.Get(headerDelivery),
		event: r.Header.Get(headerEvent),
		body:  body,
	}, 0, nil
}

func (s *Server) ignore(w http.ResponseWriter, d delivery, reason string) {
	s.logger.Info("ignoring delivery", "delivery", d.id, "event", d.event, "reason", reason)
	reply(w, http.StatusOK, "ignored: "+reason)
}

func reply(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg+"\n")
}

// signedWith reports whether header is "sha256=" followed by the hex
// HMAC-SHA256 of body under secret.
func signedWith(secret, body []byte, header string) bool {
	hexSum, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSum)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// allowed reports whether v is in list. An empty list allows everything.
func allowed(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}

// reconcile runs passes one at a time. A request arriving during a pass
// marks a single follow-up pass; further requests fold into it.
func (s *Server) reconcile(ctx context.Context) {
	s.passMu.Lock()
	if s.running {
		s.rerun = true
		s.passMu.Unlock()
		s.logger.Info("pass in progress, follow-up queued")
		return
	}
	s.running = true
	s.passMu.Unlock()

	for {
		s.pass(ctx)

		s.passMu.Lock()
		again := s.rerun
		s.rerun = false
		s.running = again
		s.passMu.Unlock()
		if !again {
			return
		}
		s.logger.Info("starting queued follow-up pass")
	}
}

func (s *Server) pass(ctx context.Context) {
	started := time.Now()
	result, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("reconciliation aborted", "error", err)
		return
	}

	attrs := []any{
		"entries", len(result.Entries),
		"downloads", result.Downloads(),
		"removed", len(result.Removed),
		"took", time.Since(started).Round(time.Millisecond),
	}
	if result.HasFailures() {
		s.logger.Warn("reconciliation finished with failures", attrs...)
		return
	}
	s.logger.Info("reconciliation finished", attrs...)
}

// coalescer calls fn once delay has passed since the most recent poke
type coalescer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func newCoalescer(delay time.Duration, fn func()) *coalescer {
	return &coalescer{delay: delay, fn: fn}
}

// poke (re)starts the countdown.
func (c *coalescer) poke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.delay, c.fire)
		return
	}
	c.timer.Reset(c.delay)
}

func (c *coalescer) fire() {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	if !stopped {
		c.fn()
	}
}

// stop cancels a pending call; later pokes are ignored.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
