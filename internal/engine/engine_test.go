package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adriangar333/Traceops-sub000/internal/connectivity"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/testutil"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	queue  *queue.Queue
	remote *testutil.FakeTransport
	engine *Engine
	clock  *testutil.Clock
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	clock := testutil.NewClock(testStart)
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := queue.New(s, model.KindDelivery, opts...)
	t.Cleanup(q.Close)

	remote := testutil.NewFakeTransport()
	e := New(s, q, remote, WithClock(clock.Now), WithIDGenerator(NewFixedGenerator("cycle-1", "cycle-2", "cycle-3")))
	return &fixture{store: s, queue: q, remote: remote, engine: e, clock: clock}
}

func (f *fixture) seed(t *testing.T, ids ...string) {
	t.Helper()
	units := make([]model.WorkUnit, 0, len(ids))
	for i, id := range ids {
		units = append(units, model.WorkUnit{
			Kind: model.KindDelivery, ID: id, Reference: "REF-" + id,
			Priority: i, Status: model.StatusPending,
		})
	}
	require.NoError(t, f.store.UpsertWorkUnits(context.Background(), units))
}

// complete records a local status change for id and returns its queue item.
func (f *fixture) complete(t *testing.T, id string) int64 {
	t.Helper()
	ctx := context.Background()
	var itemID int64
	err := f.queue.Mutate(ctx, func(tx *store.Tx, enqueue queue.EnqueueFunc) error {
		if err := tx.SetWorkUnitStatus(ctx, model.KindDelivery, id, model.StatusCompleted); err != nil {
			return err
		}
		var err error
		itemID, err = enqueue(model.UpdateStatus{WorkUnitID: id, Status: model.StatusCompleted})
		return err
	})
	require.NoError(t, err)
	return itemID
}

func (f *fixture) unit(t *testing.T, id string) model.WorkUnit {
	t.Helper()
	w, err := f.store.GetWorkUnit(context.Background(), model.KindDelivery, id)
	require.NoError(t, err)
	return w
}

func (f *fixture) pending(t *testing.T) []model.QueueItem {
	t.Helper()
	items, err := f.queue.List(context.Background(), 0)
	require.NoError(t, err)
	return items
}

func TestRunCycle_AllUploadsSucceed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1", "D-2", "D-3")
	for _, id := range []string{"D-1", "D-2", "D-3"} {
		f.complete(t, id)
		assert.False(t, f.unit(t, id).Synced)
	}
	f.remote.SetWorkUnits(
		model.WorkUnit{Kind: model.KindDelivery, ID: "D-1", Status: model.StatusCompleted},
		model.WorkUnit{Kind: model.KindDelivery, ID: "D-2", Status: model.StatusCompleted},
		model.WorkUnit{Kind: model.KindDelivery, ID: "D-3", Status: model.StatusCompleted},
	)

	report, err := f.engine.RunCycle(context.Background(), "driver-7")
	require.NoError(t, err)

	assert.Equal(t, "cycle-1", report.CycleID)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Uploaded)
	assert.Equal(t, 3, report.Downloaded)
	assert.Empty(t, f.pending(t))
	for _, id := range []string{"D-1", "D-2", "D-3"} {
		w := f.unit(t, id)
		assert.True(t, w.Synced, id)
		assert.Equal(t, model.StatusCompleted, w.Status, id)
	}
	assert.Equal(t, 1, f.remote.CallCount(testutil.OpFetch))
	assert.Equal(t, 3, f.remote.CallCount(testutil.OpUpdateStatus))

	last, ok, err := f.store.GetTime(context.Background(), store.LastSyncKey(model.KindDelivery))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(testStart))
}

func TestRunCycle_FailedItemDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1", "D-2", "D-3")
	f.complete(t, "D-1")
	second := f.complete(t, "D-2")
	f.complete(t, "D-3")
	f.remote.Fail(testutil.OpUpdateStatus, "D-2", syncerr.TransportFailure("connection reset", nil))

	report, err := f.engine.RunCycle(context.Background(), "driver-7")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, second, report.Errors[0].ItemID)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, second, items[0].ID)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, model.FailureTransport, items[0].FailureKind)
	assert.Contains(t, items[0].LastError, "connection reset")

	assert.True(t, f.unit(t, "D-1").Synced)
	assert.False(t, f.unit(t, "D-2").Synced)
	assert.True(t, f.unit(t, "D-3").Synced)

	// The next cycle retries the survivor.
	_, err = f.engine.RunCycle(context.Background(), "driver-7")
	require.NoError(t, err)
	assert.Empty(t, f.pending(t))
	assert.True(t, f.unit(t, "D-2").Synced)
}

func TestRunCycle_ConcurrentCallIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1", "D-2")
	f.complete(t, "D-1")
	f.complete(t, "D-2")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.remote.OnCall(func(c testutil.Call) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunCycle(context.Background(), "driver-7")
		done <- err
	}()
	<-entered
	assert.True(t, f.engine.Running())

	callsBefore := len(f.remote.Calls())
	pendingBefore := f.pending(t)

	_, err := f.engine.RunCycle(context.Background(), "driver-7")
	assert.True(t, syncerr.IsCycleAlreadyRunning(err))
	assert.Len(t, f.remote.Calls(), callsBefore)
	assert.Equal(t, pendingBefore, f.pending(t))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.engine.Running())
	assert.Equal(t, 2, f.remote.CallCount(testutil.OpUpdateStatus))
	assert.Equal(t, 1, f.remote.CallCount(testutil.OpFetch))
}

func TestRunCycle_DownloadFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1", "D-2")
	f.remote.Fail(testutil.OpFetch, "", syncerr.TransportFailure("HTTP 503", nil))

	_, err := f.engine.RunCycle(context.Background(), "driver-7")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransportFailure(err))

	units, err := f.store.ListWorkUnits(context.Background(), model.KindDelivery)
	require.NoError(t, err)
	assert.Len(t, units, 2)

	_, ok, err := f.store.GetTime(context.Background(), store.LastSyncKey(model.KindDelivery))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunCycle_DownloadPreservesQueuedLocalStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1")
	f.complete(t, "D-1")
	f.remote.Fail(testutil.OpUpdateStatus, "D-1", syncerr.TransportFailure("timeout", nil))
	f.remote.SetWorkUnits(model.WorkUnit{Kind: model.KindDelivery, ID: "D-1", Status: model.StatusPending, Priority: 9})

	_, err := f.engine.RunCycle(context.Background(), "driver-7")
	require.NoError(t, err)

	w := f.unit(t, "D-1")
	assert.Equal(t, model.StatusCompleted, w.Status)
	assert.Equal(t, 9, w.Priority)
	assert.False(t, w.Synced)
}

func TestRunCycle_RejectedItemParksAfterBudget(t *testing.T) {
	f := newFixture(t, queue.WithRejectBudget(2))
	f.seed(t, "D-1")
	f.complete(t, "D-1")
	rejected := syncerr.ServerRejected("HTTP 422", errors.New("status not allowed"))
	f.remote.Fail(testutil.OpUpdateStatus, "D-1", rejected, rejected)

	report, err := f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Parked)

	report, err = f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Parked)

	report, err = f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Equal(t, 2, f.remote.CallCount(testutil.OpUpdateStatus))

	stuck, err := f.queue.Stuck(context.Background())
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, f.queue.Requeue(context.Background(), stuck[0].ID))
	_, err = f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, f.pending(t))
}

func TestRunCycle_DefersLaterItemsForFailedWorkUnit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1", "D-2")
	ctx := context.Background()

	err := f.queue.Mutate(ctx, func(tx *store.Tx, enqueue queue.EnqueueFunc) error {
		if _, err := enqueue(model.UploadEvidence{EvidenceID: 1, WorkUnitID: "D-1", Type: model.EvidencePhoto, Payload: []byte{1}, CapturedAt: testStart, ContentKey: strings.Repeat("a", 64)}); err != nil {
			return err
		}
		if err := tx.SetWorkUnitStatus(ctx, model.KindDelivery, "D-1", model.StatusCompleted); err != nil {
			return err
		}
		_, err := enqueue(model.UpdateStatus{WorkUnitID: "D-1", Status: model.StatusCompleted})
		return err
	})
	require.NoError(t, err)
	f.complete(t, "D-2")
	f.remote.Fail(testutil.OpUploadEvidence, "D-1", syncerr.TransportFailure("timeout", nil))

	report, err := f.engine.RunCycle(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 1, report.Uploaded)
	_, sent := f.remote.ServerStatus("D-1")
	assert.False(t, sent)

	items := f.pending(t)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, 0, items[1].Attempts)
}

func TestRunCycle_ParkedEvidenceHoldsLaterStatus(t *testing.T) {
	f := newFixture(t, queue.WithRejectBudget(1))
	f.seed(t, "D-1", "D-2")
	ctx := context.Background()
	key := strings.Repeat("b", 64)

	err := f.queue.Mutate(ctx, func(tx *store.Tx, enqueue queue.EnqueueFunc) error {
		_, err := enqueue(model.UploadEvidence{EvidenceID: 1, WorkUnitID: "D-1", Type: model.EvidencePhoto, Payload: []byte{1}, CapturedAt: testStart, ContentKey: key})
		return err
	})
	require.NoError(t, err)
	f.remote.Fail(testutil.OpUploadEvidence, "D-1", syncerr.ServerRejected("HTTP 422", errors.New("bad photo")))

	report, err := f.engine.RunCycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Parked)

	// The status change is queued after its evidence was parked.
	f.complete(t, "D-1")
	f.complete(t, "D-2")

	report, err = f.engine.RunCycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Deferred)

	_, sent := f.remote.ServerStatus("D-1")
	assert.False(t, sent)
	assert.False(t, f.unit(t, "D-1").Synced)
	assert.True(t, f.unit(t, "D-2").Synced)

	stuck, err := f.queue.Stuck(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.NoError(t, f.queue.Requeue(ctx, stuck[0].ID))

	report, err = f.engine.RunCycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, f.remote.EvidenceCount(key))
	status, sent := f.remote.ServerStatus("D-1")
	assert.True(t, sent)
	assert.Equal(t, model.StatusCompleted, status)
	assert.True(t, f.unit(t, "D-1").Synced)
	assert.Empty(t, f.pending(t))
}

func TestRunCycle_NoIdentitySkipsDownload(t *testing.T) {
	f := newFixture(t)
	report, err := f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.DownloadSkipped)
	assert.Zero(t, f.remote.CallCount(testutil.OpFetch))
}

func TestRunCycle_NotifiesQueueSubscribers(t *testing.T) {
	f := newFixture(t)
	events := make(chan queue.Event, 8)
	unsubscribe := f.queue.Subscribe(func(ev queue.Event) { events <- ev })
	defer unsubscribe()

	_, err := f.engine.RunCycle(context.Background(), "")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, queue.EventCycleComplete, ev.Type)
		assert.Equal(t, 0, ev.Pending)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle_complete event")
	}
}

func TestRun_TriggersOnReachableTransition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D-1")
	f.complete(t, "D-1")

	src := connectivity.NewManualSource(false)
	monitor := connectivity.NewMonitor(src, connectivity.WithDebounce(0))
	unsubscribe := f.engine.TriggerOn(monitor)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = monitor.Run(ctx) }()
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- f.engine.Run(ctx, LoopConfig{
			Online:   monitor.Online,
			Identity: func(context.Context) (string, error) { return "driver-7", nil },
		})
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.remote.CallCount(testutil.OpUpdateStatus))

	src.Set(true)
	assert.Eventually(t, func() bool {
		return f.remote.CallCount(testutil.OpFetch) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.pending(t))

	cancel()
	assert.NoError(t, <-loopDone)
}

func TestRun_PeriodicCyclesOnlyWhileOnline(t *testing.T) {
	f := newFixture(t)
	var online atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = f.engine.Run(ctx, LoopConfig{
			Interval: 10 * time.Millisecond,
			Online:   online.Load,
			Identity: func(context.Context) (string, error) { return "driver-7", nil },
		})
	}()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, f.remote.CallCount(testutil.OpFetch))

	online.Store(true)
	assert.Eventually(t, func() bool {
		return f.remote.CallCount(testutil.OpFetch) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Equal(t, "b", g.Generate())

	assert.Len(t, UUIDv7Generator{}.Generate(), 36)
}
