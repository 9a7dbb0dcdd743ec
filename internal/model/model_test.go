package model

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

func sampleEvidence() Evidence {
	return Evidence{
		ID:          12,
		Kind:        KindServiceOrder,
		WorkUnitID:  "OS-100",
		Type:        EvidencePhoto,
		Payload:     []byte{0xff, 0xd8, 0xff},
		Signature:   []byte("sig"),
		Notes:       "meter behind gate",
		Reading:     "10234",
		ActionTaken: "suspended",
		Location:    &Coordinates{Lat: 4.6097, Lng: -74.0817},
		CapturedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("delivery")
	require.NoError(t, err)
	assert.Equal(t, KindDelivery, k)

	_, err = ParseKind("pickup")
	assert.Error(t, err)
}

func TestWorkUnitValidate(t *testing.T) {
	w := WorkUnit{Kind: KindDelivery, ID: "D-1", Status: StatusPending}
	assert.NoError(t, w.Validate())

	w.Location = &Coordinates{Lat: 91, Lng: 0}
	assert.Error(t, w.Validate())

	assert.Error(t, WorkUnit{Kind: KindDelivery, Status: StatusPending}.Validate())
	assert.Error(t, WorkUnit{Kind: "x", ID: "a", Status: StatusPending}.Validate())
	assert.Error(t, WorkUnit{Kind: KindDelivery, ID: "a", Status: "lost"}.Validate())
}

func TestQueueItemParked(t *testing.T) {
	item := QueueItem{Attempts: 3, FailureKind: FailureRejected}
	assert.True(t, item.Parked(3))
	assert.False(t, item.Parked(4))
	assert.False(t, item.Parked(0))

	item.FailureKind = FailureTransport
	assert.False(t, item.Parked(3), "transport failures never park")
}

func TestContentKeyStable(t *testing.T) {
	e := sampleEvidence()
	k1, err := ContentKey(e)
	require.NoError(t, err)
	k2, err := ContentKey(e)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestContentKeyIgnoresLocalIdentity(t *testing.T) {
	a := sampleEvidence()
	b := sampleEvidence()
	b.ID = 99
	b.Synced = true

	ka, err := ContentKey(a)
	require.NoError(t, err)
	kb, err := ContentKey(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestContentKeyChangesWithContent(t *testing.T) {
	base, err := ContentKey(sampleEvidence())
	require.NoError(t, err)

	mutations := map[string]func(*Evidence){
		"payload":  func(e *Evidence) { e.Payload = []byte{0x00} },
		"notes":    func(e *Evidence) { e.Notes = "other" },
		"unit":     func(e *Evidence) { e.WorkUnitID = "OS-101" },
		"time":     func(e *Evidence) { e.CapturedAt = e.CapturedAt.Add(time.Second) },
		"location": func(e *Evidence) { e.Location = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEvidence()
			mutate(&e)
			k, err := ContentKey(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
		})
	}
}

func TestContentKeyNormalizesUnicode(t *testing.T) {
	composed := sampleEvidence()
	composed.Notes = "acci\u00f3n"
	decomposed := sampleEvidence()
	decomposed.Notes = "accio\u0301n"

	k1, err := ContentKey(composed)
	require.NoError(t, err)
	k2, err := ContentKey(decomposed)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := marshalCanonical(map[string]any{"b": 1, "a": "<x>", "c": []any{true, false}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"c":[true,false]}`, string(out))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := marshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
	_, err = marshalCanonical(nil)
	assert.Error(t, err)
}

func TestCombinedNotes(t *testing.T) {
	a := UploadEvidence{Notes: "gate closed", Reading: "10234", ActionTaken: "cut"}
	assert.Equal(t, "gate closed | reading: 10234 | action: cut", a.CombinedNotes())
	assert.Equal(t, "action: cut", UploadEvidence{ActionTaken: "cut"}.CombinedNotes())
	assert.Empty(t, UploadEvidence{}.CombinedNotes())
}

func TestNewUploadEvidenceIsFrozenCopy(t *testing.T) {
	e := sampleEvidence()
	a := NewUploadEvidence(e, "REF-1")

	e.Payload[0] = 0x00
	e.Location.Lat = 0

	assert.Equal(t, byte(0xff), a.Payload[0])
	assert.Equal(t, 4.6097, a.Location.Lat)
	assert.Equal(t, "REF-1", a.WorkUnitRef)

	fam, id := a.Target()
	assert.Equal(t, FamilyEvidence, fam)
	assert.Equal(t, "12", id)
}

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) HandleUpdateStatus(_ context.Context, a UpdateStatus) error {
	h.calls = append(h.calls, "status:"+a.WorkUnitID)
	return nil
}

func (h *recordingHandler) HandleUploadEvidence(_ context.Context, a UploadEvidence) error {
	h.calls = append(h.calls, "evidence:"+a.WorkUnitID)
	return nil
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	actions := []Action{
		UploadEvidence{WorkUnitID: "A"},
		UpdateStatus{WorkUnitID: "B", Status: StatusCompleted},
	}
	for _, a := range actions {
		require.NoError(t, a.Dispatch(context.Background(), h))
	}
	assert.Equal(t, []string{"evidence:A", "status:B"}, h.calls)
}

func TestEncodeDecodeUpdateStatus(t *testing.T) {
	in := UpdateStatus{WorkUnitID: "D-9", Status: StatusFailed, Reason: "client absent"}
	raw, err := EncodeAction(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)

	out, err := DecodeAction(ActionUpdateStatus, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeDecodeUploadEvidence(t *testing.T) {
	e := sampleEvidence()
	key, err := ContentKey(e)
	require.NoError(t, err)
	e.ContentKey = key

	in := NewUploadEvidence(e, "OS-REF")
	raw, err := EncodeAction(in)
	require.NoError(t, err)

	out, err := DecodeAction(ActionUploadEvidence, raw)
	require.NoError(t, err)
	got, ok := out.(UploadEvidence)
	require.True(t, ok)
	assert.Equal(t, in.Payload, got.Payload)
	assert.Equal(t, in.ContentKey, got.ContentKey)
	assert.True(t, in.CapturedAt.Equal(got.CapturedAt))
	assert.Equal(t, *in.Location, *got.Location)
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	raw := []byte(`{"version":1,"data":{"work_unit_id":"D-1","status":"completed","extra":true}}`)
	_, err := DecodeAction(ActionUpdateStatus, raw)
	require.Error(t, err)
	assert.True(t, syncerr.IsInvalidPayload(err))
}

func TestDecodeRejectsFutureVersion(t *testing.T) {
	raw := []byte(`{"version":2,"data":{"work_unit_id":"D-1","status":"completed"}}`)
	_, err := DecodeAction(ActionUpdateStatus, raw)
	assert.True(t, syncerr.IsInvalidPayload(err))
}

func TestDecodeRejectsBadStatus(t *testing.T) {
	raw := []byte(`{"version":1,"data":{"work_unit_id":"D-1","status":"lost"}}`)
	_, err := DecodeAction(ActionUpdateStatus, raw)
	assert.True(t, syncerr.IsInvalidPayload(err))
}

func TestDecodeRejectsUnknownAction(t *testing.T) {
	_, err := DecodeAction("delete_everything", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown action"))
}

func TestEncodeRejectsMissingContentKey(t *testing.T) {
	a := NewUploadEvidence(sampleEvidence(), "")
	_, err := EncodeAction(a)
	assert.True(t, syncerr.IsInvalidPayload(err))
}
