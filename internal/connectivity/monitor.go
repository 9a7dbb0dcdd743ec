// Package connectivity turns raw reachability observations into debounced
// online/offline transitions delivered to many subscribers.
//
// A Source produces observations; the Monitor debounces them and fans the
// resulting transitions out. The Monitor is the only component whose
// transitions start reconciliation on their own.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/fanout"
)

// DefaultDebounce is how long a new state must hold before it is reported.
const DefaultDebounce = 2 * time.Second

// Source reports raw connectivity observations. Run calls report whenever it
// learns the current state (repeats are fine) and returns when ctx is done.
type Source interface {
	Run(ctx context.Context, report func(online bool)) error
}

// Transition is a committed connectivity change.
type Transition struct {
	Online bool
	// Initial is true for the first state the monitor settles on.
	Initial bool
	At      time.Time
}

// BecameReachable reports whether the transition is offline to online, or
// the initial state being online.
func (t Transition) BecameReachable() bool { return t.Online }

// Monitor debounces observations from a Source.
type Monitor struct {
	source   Source
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger
	hub      *fanout.Hub[Transition]
	obs      chan bool
	ready    chan struct{}

	mu      sync.RWMutex
	online  bool
	settled bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce sets the debounce window. Zero reports every change at once.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.debounce = d
		}
	}
}

// WithClock sets the time source for Transition.At.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor over source. Call Run to start it.
func NewMonitor(source Source, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		debounce: DefaultDebounce,
		now:      time.Now,
		logger:   slog.Default(),
		hub:      fanout.NewHub[Transition](),
		obs:      make(chan bool, 16),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online returns the last committed state. It is false until the first
// observation settles.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Ready is closed once the monitor has settled on its first state. Online
// is meaningful only after that.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Subscribe registers fn for transitions and returns a function that removes
// it. Subscribers never block each other or the monitor.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	return m.hub.Subscribe(fn)
}

// Run starts the source and the debounce loop. It blocks until ctx is done
// or the source fails, then stops delivering transitions.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srcErr := make(chan error, 1)
	go func() {
		srcErr <- m.source.Run(ctx, m.observe(ctx))
	}()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()
	defer m.hub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-srcErr:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil

		case online := <-m.obs:
			m.mu.RLock()
			settled, current := m.settled, m.online
			m.mu.RUnlock()

			switch {
			case !settled:
				stopTimer()
				m.commit(online, true)
			case online == current:
				// A flap back to the committed state cancels the pending change.
				stopTimer()
			case m.debounce == 0:
				m.commit(online, false)
			default:
				pending = online
				stopTimer()
				timer = time.NewTimer(m.debounce)
				timerC = timer.C
			}

		case <-timerC:
			timer, timerC = nil, nil
			m.commit(pending, false)
		}
	}
}

func (m *Monitor) observe(ctx context.Context) func(bool) {
	return func(online bool) {
		select {
		case m.obs <- online:
		case <-ctx.Done():
		}
	}
}

func (m *Monitor) commit(online, initial bool) {
	m.mu.Lock()
	m.online = online
	m.settled = true
	m.mu.Unlock()
	if initial {
		close(m.ready)
	}

	m.logger.Info("connectivity changed", "online", online, "initial", initial)
	m.hub.Publish(Transition{Online: online, Initial: initial, At: m.now()})
}
