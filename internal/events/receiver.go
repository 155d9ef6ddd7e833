// receiver.go - HTTP intake of relayed ledger events.
//
// A relayer POSTs envelopes to /events. Accepted envelopes are queued in
// arrival order and handed out by Next, so a Receiver is a Source.

package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"repledger/internal/metrics"
)

var ErrReceiverClosed = errors.New("receiver closed")

// maxBody bounds a single POST.
const maxBody = 1 << 20

// Receiver serves the event intake endpoint.
type Receiver struct {
	addr    string
	log     zerolog.Logger
	metrics *metrics.Metrics
	limiter *SubmitterLimiter
	extra   map[string]http.Handler

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

type ReceiverOption func(*Receiver)

func WithLogger(l zerolog.Logger) ReceiverOption {
	return func(r *Receiver) { r.log = l.With().Str("component", "receiver").Logger() }
}

func WithMetrics(m *metrics.Metrics) ReceiverOption {
	return func(r *Receiver) { r.metrics = m }
}

// WithRateLimit limits each remote address to burst requests, refilled by
// refill tokens every period.
func WithRateLimit(burst, refill int, period time.Duration) ReceiverOption {
	return func(r *Receiver) { r.limiter = NewSubmitterLimiter(burst, refill, period) }
}

// WithHandler mounts an extra handler, such as /health or /metrics.
func WithHandler(pattern string, h http.Handler) ReceiverOption {
	return func(r *Receiver) { r.extra[pattern] = h }
}

// WithQueueSize sets how many accepted events may wait for Next.
func WithQueueSize(n int) ReceiverOption {
	return func(r *Receiver) { r.queue = make(chan Event, n) }
}

func NewReceiver(addr string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		addr:  addr,
		log:   zerolog.Nop(),
		extra: make(map[string]http.Handler),
		queue: make(chan Event, 1024),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler returns the mux serving /events and the extra handlers.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", r.handleEvent)
	for pattern, h := range r.extra {
		mux.Handle(pattern, h)
	}
	return mux
}

func (r *Receiver) handleEvent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.limiter != nil && !r.limiter.Allow(remoteHost(req)) {
		r.metrics.RecordError("rate_limited")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	e, err := Decode(body)
	if err != nil {
		r.metrics.RecordRejected("decode")
		r.log.Warn().Err(err).Str("remote", remoteHost(req)).Msg("rejected event")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case r.queue <- e:
	case <-r.done:
		http.Error(w, ErrReceiverClosed.Error(), http.StatusServiceUnavailable)
		return
	default:
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	}

	o := e.Origin()
	r.log.Debug().Str("type", string(e.Type())).Str("origin", o.String()).Msg("event queued")
	w.WriteHeader(http.StatusAccepted)
}

// Start listens on the configured address and serves until Close.
func (r *Receiver) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}
	r.listener = ln
	r.server = &http.Server{Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.log.Info().Str("addr", ln.Addr().String()).Msg("receiver listening")
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error().Err(err).Msg("receiver stopped")
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (r *Receiver) Addr() string {
	if r.listener == nil {
		return r.addr
	}
	return r.listener.Addr().String()
}

// Next blocks until an event is queued, ctx ends or the receiver closes.
// Events still queued at close are drained before io.EOF.
func (r *Receiver) Next(ctx context.Context) (Event, error) {
	select {
	case e := <-r.queue:
		return e, nil
	default:
	}
	select {
	case e := <-r.queue:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		select {
		case e := <-r.queue:
			return e, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close stops the server. Queued events remain readable.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = r.server.Shutdown(ctx)
		}
		r.wg.Wait()
	})
	return err
}

// Send posts e to a receiver at addr.
func Send(ctx context.Context, client *http.Client, addr string, e Event) error {
	body, err := Encode(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("receiver returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
