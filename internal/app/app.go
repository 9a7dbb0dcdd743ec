// Package app is the application shell: it opens the local store, builds
// one queue, engine and capture service per work-unit kind, runs the
// connectivity monitor, and exposes the operations the CLI and a UI call.
//
// When the store cannot open, the app runs in online-only mode: nothing is
// queued, captures go straight to the remote authority and fail while
// offline instead of pretending to be saved.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/capture"
	"github.com/Adriangar333/Traceops-sub000/internal/config"
	"github.com/Adriangar333/Traceops-sub000/internal/connectivity"
	"github.com/Adriangar333/Traceops-sub000/internal/engine"
	"github.com/Adriangar333/Traceops-sub000/internal/metrics"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Mode describes how captures are persisted.
type Mode string

const (
	// ModeOffline queues every mutation locally before it is sent.
	ModeOffline Mode = "offline_capable"

	// ModeOnlineOnly is the degraded mode used when the store is
	// unavailable. Nothing is saved locally.
	ModeOnlineOnly Mode = "online_only"
)

var (
	ErrNotInitialized = errors.New("app is not initialized")
	ErrNoRemote       = errors.New("no remote configured")
	ErrOtherIdentity  = errors.New("another identity is logged in: log out first")
	ErrUnknownKind    = errors.New("unknown work unit kind")
)

// Options configures an App. Config is required; everything else has a
// default derived from it.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	// Transports overrides the remote per kind. Kinds without an entry use
	// an HTTP client when remote.base_url is set and have no remote
	// otherwise.
	Transports map[model.Kind]transport.Transport

	// Source overrides the connectivity source chosen from config.
	Source connectivity.Source

	Clock func() time.Time
	IDs   engine.IDGenerator
}

// Lane groups the components serving one work-unit kind. Queue, Engine and
// Capture are nil in online-only mode; Engine is also nil without a remote.
type Lane struct {
	Kind      model.Kind
	Queue     *queue.Queue
	Engine    *engine.Engine
	Capture   *capture.Service
	Transport transport.Transport
	Tolerance float64
}

// App is the application shell. All methods are safe for concurrent use.
type App struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	initMu      sync.Mutex
	initialized bool
	store       *store.Store
	mode        Mode
	monitor     *connectivity.Monitor
	lanes       map[model.Kind]*Lane
	stop        context.CancelFunc
	monitorDone chan struct{}
	unsubs      []func()

	mu       sync.RWMutex
	identity string
	token    string
	cache    map[model.Kind][]model.WorkUnit // online-only mode
}

// New creates an app. Call Initialize before anything else.
func New(opts Options) *App {
	a := &App{
		opts:   opts,
		logger: opts.Logger,
		now:    opts.Clock,
		lanes:  make(map[model.Kind]*Lane),
		cache:  make(map[model.Kind][]model.WorkUnit),
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Initialize opens the store, builds the lanes and starts the connectivity
// monitor. It is idempotent: concurrent and repeated calls are serialized
// and later ones return immediately.
//
// A store that cannot open does not fail Initialize; the app switches to
// ModeOnlineOnly and logs the cause.
func (a *App) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}

	cfg := a.opts.Config
	a.mode = ModeOffline
	s, err := store.Open(cfg.DB.Path, store.WithClock(a.now))
	switch {
	case syncerr.IsStorageUnavailable(err):
		a.logger.Error("local storage unavailable, running online only: captures are not saved offline",
			"path", cfg.DB.Path, "error", err)
		a.mode = ModeOnlineOnly
	case err != nil:
		return err
	default:
		a.store = s
	}

	if a.store != nil {
		if err := a.loadSession(ctx); err != nil {
			a.store.Close()
			a.store = nil
			return err
		}
	}
	a.mu.Lock()
	if a.token == "" {
		a.token = cfg.Remote.Token
	}
	a.mu.Unlock()

	client := &http.Client{Timeout: cfg.Remote.Timeout}
	for _, kind := range model.Kinds() {
		lane, err := a.buildLane(kind, client)
		if err != nil {
			a.teardown()
			return err
		}
		a.lanes[kind] = lane
	}

	source := a.opts.Source
	if source == nil {
		source = sourceFromConfig(cfg.Network)
	}
	a.monitor = connectivity.NewMonitor(source,
		connectivity.WithDebounce(cfg.Network.Debounce),
		connectivity.WithClock(a.now),
		connectivity.WithLogger(a.logger),
	)
	a.unsubs = append(a.unsubs, a.monitor.Subscribe(func(t connectivity.Transition) {
		metrics.SetOnline(t.Online)
	}))
	for _, lane := range a.lanes {
		if lane.Engine != nil {
			a.unsubs = append(a.unsubs, lane.Engine.TriggerOn(a.monitor))
		}
		if lane.Queue != nil {
			a.unsubs = append(a.unsubs, metrics.ObserveQueue(lane.Queue))
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stop = cancel
	a.monitorDone = make(chan struct{})
	go func() {
		defer close(a.monitorDone)
		if err := a.monitor.Run(runCtx); err != nil {
			a.logger.Error("connectivity monitor stopped", "error", err)
		}
	}()

	a.initialized = true
	a.logger.Info("initialized", "mode", string(a.mode), "db", cfg.DB.Path)
	return nil
}

func (a *App) buildLane(kind model.Kind, client *http.Client) (*Lane, error) {
	cfg := a.opts.Config
	lane := &Lane{Kind: kind, Tolerance: tolerance(cfg.Geofence, kind)}

	if t, ok := a.opts.Transports[kind]; ok {
		lane.Transport = t
	} else if cfg.Remote.BaseURL != "" {
		h, err := transport.NewHTTPClient(cfg.Remote.BaseURL, kind,
			transport.WithHTTPClient(client),
			transport.WithToken(a.currentToken),
		)
		if err != nil {
			return nil, err
		}
		lane.Transport = h
	}

	if a.store == nil {
		return lane, nil
	}
	lane.Queue = queue.New(a.store, kind,
		queue.WithBatchSize(cfg.Sync.BatchSize),
		queue.WithRejectBudget(cfg.Sync.RejectBudget),
		queue.WithLogger(a.logger),
	)
	lane.Capture = capture.New(a.store, lane.Queue,
		capture.WithTolerance(lane.Tolerance),
		capture.WithClock(a.now),
		capture.WithLogger(a.logger),
	)
	if lane.Transport != nil {
		opts := []engine.Option{
			engine.WithClock(a.now),
			engine.WithLogger(a.logger),
			engine.WithBatchSize(cfg.Sync.BatchSize),
		}
		if a.opts.IDs != nil {
			opts = append(opts, engine.WithIDGenerator(a.opts.IDs))
		}
		lane.Engine = engine.New(a.store, lane.Queue, lane.Transport, opts...)
	}
	return lane, nil
}

func tolerance(g config.Geofence, kind model.Kind) float64 {
	m := g.DeliveryToleranceM
	if kind == model.KindServiceOrder {
		m = g.ServiceOrderToleranceM
	}
	if m <= 0 {
		return capture.DefaultTolerance(kind)
	}
	return m
}

func sourceFromConfig(n config.Network) connectivity.Source {
	switch {
	case n.StateFile != "":
		return &connectivity.FileSource{Path: n.StateFile}
	case n.ProbeAddr != "":
		return &connectivity.ProbeSource{Addr: n.ProbeAddr, Interval: n.ProbeInterval}
	}
	return connectivity.NewManualSource(true)
}

func (a *App) loadSession(ctx context.Context) error {
	identity, err := a.store.GetState(ctx, store.StateIdentity)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	token, err := a.store.GetState(ctx, store.StateToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	a.mu.Lock()
	a.identity, a.token = identity, token
	a.mu.Unlock()
	return nil
}

// Close stops the monitor and releases the store. The app cannot be
// reinitialized afterwards.
func (a *App) Close() error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if !a.initialized {
		return nil
	}
	a.stop()
	<-a.monitorDone
	err := a.teardown()
	a.initialized = false
	return err
}

func (a *App) teardown() error {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	for _, lane := range a.lanes {
		if lane.Queue != nil {
			lane.Queue.Close()
		}
	}
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) ready() error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Mode reports whether captures are saved locally.
func (a *App) Mode() Mode {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.mode
}

// Store returns the local store, nil in online-only mode.
func (a *App) Store() *store.Store {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.store
}

// Monitor returns the connectivity monitor, nil before Initialize.
func (a *App) Monitor() *connectivity.Monitor {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.monitor
}

// Lane returns the components for kind.
func (a *App) Lane(kind model.Kind) (*Lane, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	lane, ok := a.lanes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return lane, nil
}

// Lanes returns every lane in kind order.
func (a *App) Lanes() []*Lane {
	if a.ready() != nil {
		return nil
	}
	out := make([]*Lane, 0, len(a.lanes))
	for _, kind := range model.Kinds() {
		out = append(out, a.lanes[kind])
	}
	return out
}

func (a *App) currentToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// Identity returns the logged-in identity, empty when logged out.
func (a *App) Identity() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

func (a *App) identityFor(context.Context) (string, error) {
	return a.Identity(), nil
}

func (a *App) online() bool {
	return a.monitor.Online()
}

// Run drives every engine until ctx is done: cycles start on reconnect,
// after captures while online, and every sync.interval while online.
func (a *App) Run(ctx context.Context) error {
	if err := a.ready(); err != nil {
		return err
	}
	cfg := engine.LoopConfig{
		Interval: a.opts.Config.Sync.Interval,
		Online:   a.online,
		Identity: a.identityFor,
	}

	var wg sync.WaitGroup
	for _, lane := range a.Lanes() {
		if lane.Engine == nil {
			continue
		}
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			_ = e.Run(ctx, cfg)
		}(lane.Engine)
	}
	wg.Wait()
	return nil
}
