package service

import (
	"encoding/json"
	"fmt"
	"testing"

	"gigsync-server/internal/domain"
	"gigsync-server/pkg/vclock"
)

func seedRecords(t *testing.T, f *syncFixture, userID, deviceID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		pushOne(t, f, userID, deviceID, domain.PushChange{
			Table:         "invoices",
			ID:            fmt.Sprintf("inv-%d", i),
			Data:          json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			VersionVector: vclock.Vector{deviceID: int64(i)},
		})
	}
}

func TestPullFullSyncFromZeroCheckpoint(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	seedRecords(t, f, "user-1", "device-a", 3)

	resp, err := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-b", Checkpoint: 0})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	invoices := resp.Changes["invoices"]
	if invoices == nil || len(invoices.Created) != 3 {
		t.Fatalf("expected 3 created records, got %+v", invoices)
	}
	if len(invoices.Updated) != 0 || len(invoices.Deleted) != 0 {
		t.Errorf("full sync must classify everything as created, got %+v", invoices)
	}
	if resp.Checkpoint != 3 {
		t.Errorf("expected checkpoint 3, got %d", resp.Checkpoint)
	}
	if resp.HasMore {
		t.Error("expected no further pages")
	}
}

func TestPullClassifiesCreatedUpdatedDeleted(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	seedRecords(t, f, "user-1", "device-a", 2) // seq 1, 2

	// The device syncs up to here.
	resp, _ := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-b", Checkpoint: 0})
	checkpoint := resp.Checkpoint

	// Then: inv-1 updated, inv-2 deleted, inv-3 newly created.
	pushOne(t, f, "user-1", "device-a", domain.PushChange{
		Table:         "invoices",
		ID:            "inv-1",
		Data:          json.RawMessage(`{"n":11}`),
		VersionVector: vclock.Vector{"device-a": 3},
	})
	pushOne(t, f, "user-1", "device-a", domain.PushChange{
		Table:         "invoices",
		ID:            "inv-2",
		Deleted:       true,
		VersionVector: vclock.Vector{"device-a": 4},
	})
	pushOne(t, f, "user-1", "device-a", domain.PushChange{
		Table:         "invoices",
		ID:            "inv-3",
		Data:          json.RawMessage(`{"n":3}`),
		VersionVector: vclock.Vector{"device-z": 1},
	})

	resp, err := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-b", Checkpoint: checkpoint})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	invoices := resp.Changes["invoices"]
	if len(invoices.Created) != 1 || invoices.Created[0].ID != "inv-3" {
		t.Errorf("expected inv-3 in created, got %+v", invoices.Created)
	}
	if len(invoices.Updated) != 1 || invoices.Updated[0].ID != "inv-1" {
		t.Errorf("expected inv-1 in updated, got %+v", invoices.Updated)
	}
	if len(invoices.Deleted) != 1 || invoices.Deleted[0] != "inv-2" {
		t.Errorf("expected inv-2 in deleted, got %+v", invoices.Deleted)
	}
}

func TestPullTombstonesNeverAppearAsCreated(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)

	pushOne(t, f, "user-1", "device-a", domain.PushChange{
		Table:         "invoices",
		ID:            "inv-1",
		Data:          json.RawMessage(`{"n":1}`),
		VersionVector: vclock.Vector{"device-a": 1},
	})
	pushOne(t, f, "user-1", "device-a", domain.PushChange{
		Table:         "invoices",
		ID:            "inv-1",
		Deleted:       true,
		VersionVector: vclock.Vector{"device-a": 2},
	})

	// A fresh device that never saw the record still learns of the delete,
	// only as an id.
	resp, _ := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-new", Checkpoint: 0})
	invoices := resp.Changes["invoices"]
	if len(invoices.Created) != 0 || len(invoices.Updated) != 0 {
		t.Errorf("tombstone leaked into created/updated: %+v", invoices)
	}
	if len(invoices.Deleted) != 1 || invoices.Deleted[0] != "inv-1" {
		t.Errorf("expected inv-1 in deleted, got %v", invoices.Deleted)
	}
}

func TestPullPaginatesWithReusableCheckpoint(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	seedRecords(t, f, "user-1", "device-a", 5)

	seen := make(map[string]bool)
	checkpoint := int64(0)
	pages := 0

	for {
		resp, err := f.pull.Pull("user-1", &domain.PullRequest{
			DeviceID:   "device-b",
			Checkpoint: checkpoint,
			Limit:      2,
		})
		if err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		pages++

		for _, table := range resp.Changes {
			for _, r := range table.Created {
				if seen[r.ID] {
					t.Errorf("record %s delivered twice", r.ID)
				}
				seen[r.ID] = true
			}
		}

		if resp.Checkpoint <= checkpoint && resp.HasMore {
			t.Fatal("checkpoint must advance while pages remain")
		}
		checkpoint = resp.Checkpoint
		if !resp.HasMore {
			break
		}
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != 5 {
		t.Errorf("expected 5 records across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("expected 3 pages at limit 2, got %d", pages)
	}
}

func TestPullSameCheckpointIsStable(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	seedRecords(t, f, "user-1", "device-a", 3)

	first, _ := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-b", Checkpoint: 1})
	second, _ := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-b", Checkpoint: 1})

	if first.Checkpoint != second.Checkpoint {
		t.Errorf("checkpoints differ: %d vs %d", first.Checkpoint, second.Checkpoint)
	}
	if len(first.Changes["invoices"].Created) != len(second.Changes["invoices"].Created) {
		t.Error("repeated pulls with the same checkpoint must return the same delta")
	}
}

func TestPullAtHeadReturnsEmptyDelta(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	seedRecords(t, f, "user-1", "device-a", 2)

	resp, _ := f.pull.Pull("user-1", &domain.PullRequest{DeviceID: "device-a", Checkpoint: 2})
	if len(resp.Changes) != 0 {
		t.Errorf("expected empty delta at head, got %+v", resp.Changes)
	}
	if resp.Checkpoint != 2 {
		t.Errorf("checkpoint must not regress, got %d", resp.Checkpoint)
	}
	if resp.HasMore {
		t.Error("no more pages expected at head")
	}
}

func TestPullClampsOversizedLimit(t *testing.T) {
	f := newSyncFixture(domain.PolicyLastWriteWins)
	f.pull = NewPullService(f.records, 500, 3)
	seedRecords(t, f, "user-1", "device-a", 5)

	resp, _ := f.pull.Pull("user-1", &domain.PullRequest{
		DeviceID:   "device-b",
		Checkpoint: 0,
		Limit:      1000,
	})

	if got := len(resp.Changes["invoices"].Created); got != 3 {
		t.Errorf("expected limit clamped to 3 records, got %d", got)
	}
	if !resp.HasMore {
		t.Error("expected has_more after a clamped page")
	}
}
