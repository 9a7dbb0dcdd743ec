package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

func TestClock(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := NewClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))
	c.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())
	c.Reset()
	assert.Equal(t, start, c.Now())
}

func TestFakeTransport_ScriptedFailures(t *testing.T) {
	ctx := context.Background()
	f := NewFakeTransport()
	f.Fail(OpUpdateStatus, "D-2", syncerr.TransportFailure("timeout", nil))
	f.Fail(OpUpdateStatus, "", syncerr.ServerRejected("HTTP 422", nil))

	err := f.HandleUpdateStatus(ctx, model.UpdateStatus{WorkUnitID: "D-2", Status: model.StatusCompleted})
	assert.True(t, syncerr.IsTransportFailure(err))

	err = f.HandleUpdateStatus(ctx, model.UpdateStatus{WorkUnitID: "D-1", Status: model.StatusCompleted})
	assert.True(t, syncerr.IsServerRejected(err))

	require.NoError(t, f.HandleUpdateStatus(ctx, model.UpdateStatus{WorkUnitID: "D-2", Status: model.StatusCompleted}))

	status, ok := f.ServerStatus("D-2")
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, status)
	_, ok = f.ServerStatus("D-1")
	assert.False(t, ok)

	results := []string{}
	for _, c := range f.Calls() {
		results = append(results, c.Result)
	}
	assert.Equal(t, []string{"transport", "rejected", "ok"}, results)
}

func TestFakeTransport_EvidenceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := NewFakeTransport()
	a := model.UploadEvidence{WorkUnitID: "OS-1", ContentKey: "abc"}

	require.NoError(t, f.HandleUploadEvidence(ctx, a))
	require.NoError(t, f.HandleUploadEvidence(ctx, a))

	assert.Equal(t, 2, f.EvidenceCount("abc"))
	assert.Equal(t, 1, f.StoredEvidence())
	assert.Equal(t, "duplicate", f.Calls()[1].Result)
}

func TestFakeTransport_Offline(t *testing.T) {
	f := NewFakeTransport()
	f.SetWorkUnits(model.WorkUnit{Kind: model.KindDelivery, ID: "D-1", Status: model.StatusPending})
	f.SetOffline(true)

	_, err := f.FetchWorkUnits(context.Background(), "driver-1")
	assert.True(t, syncerr.IsTransportFailure(err))

	f.SetOffline(false)
	units, err := f.FetchWorkUnits(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Len(t, units, 1)
	assert.Equal(t, 2, f.CallCount(OpFetch))
}
