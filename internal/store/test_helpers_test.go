package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new on-disk store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestWorkUnit creates a pending work unit with minimal required fields.
func createTestWorkUnit(kind model.Kind, id string, priority int, amount float64) model.WorkUnit {
	return model.WorkUnit{
		Kind:       kind,
		ID:         id,
		Reference:  "REF-" + id,
		ClientName: "Client " + id,
		Address:    "Calle 1 # 2-3",
		Location:   &model.Coordinates{Lat: 4.6097, Lng: -74.0817},
		AmountDue:  amount,
		Priority:   priority,
		Status:     model.StatusPending,
	}
}

// createTestEvidence creates an evidence record for a work unit.
func createTestEvidence(kind model.Kind, workUnitID string) model.Evidence {
	return model.Evidence{
		Kind:       kind,
		WorkUnitID: workUnitID,
		Type:       model.EvidencePhoto,
		Payload:    []byte{0xff, 0xd8},
		Notes:      "left at door",
		Location:   &model.Coordinates{Lat: 4.6098, Lng: -74.0818},
		CapturedAt: testNow,
		ContentKey: "0000000000000000000000000000000000000000000000000000000000000001",
	}
}

// seedWorkUnits upserts work units or fails the test.
func seedWorkUnits(t *testing.T, s *Store, units ...model.WorkUnit) {
	t.Helper()
	if err := s.UpsertWorkUnits(context.Background(), units); err != nil {
		t.Fatalf("UpsertWorkUnits() failed: %v", err)
	}
}

// enqueueRow inserts a queue row in its own transaction.
func enqueueRow(t *testing.T, s *Store, row QueueRow) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.InsertQueueItem(context.Background(), row)
		return err
	})
	if err != nil {
		t.Fatalf("InsertQueueItem() failed: %v", err)
	}
	return id
}

func statusRow(kind model.Kind, workUnitID string) QueueRow {
	return QueueRow{
		Kind:         kind,
		Action:       model.ActionUpdateStatus,
		TargetFamily: model.FamilyWorkUnits,
		TargetID:     workUnitID,
		Payload:      []byte(`{"version":1,"data":{"work_unit_id":"` + workUnitID + `","status":"completed"}}`),
	}
}
