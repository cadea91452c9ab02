// Package models tests for domain model helpers.
package models

import "testing"

// TestParseFindingStatus verifies only known statuses parse.
func TestParseFindingStatus(t *testing.T) {
	valid := []string{"pass", "fail", "needs_attention", "urgent", "na"}
	for _, s := range valid {
		t.Run(s, func(t *testing.T) {
			if _, err := ParseFindingStatus(s); err != nil {
				t.Errorf("ParseFindingStatus(%q) unexpected error: %v", s, err)
			}
		})
	}

	for _, s := range []string{"", "ok", "PASS", "passed"} {
		if _, err := ParseFindingStatus(s); err == nil {
			t.Errorf("ParseFindingStatus(%q) should fail", s)
		}
	}
}

// TestParseSyncState verifies only known states parse.
func TestParseSyncState(t *testing.T) {
	valid := []string{"pending", "syncing", "synced", "failed"}
	for _, s := range valid {
		if _, err := ParseSyncState(s); err != nil {
			t.Errorf("ParseSyncState(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseSyncState("done"); err == nil {
		t.Error("ParseSyncState(\"done\") should fail")
	}
}

// TestSyncStateActive verifies active classification per state.
func TestSyncStateActive(t *testing.T) {
	tests := []struct {
		state SyncState
		want  bool
	}{
		{SyncStatePending, true},
		{SyncStateSyncing, true},
		{SyncStateFailed, true},
		{SyncStateSynced, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Active(); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSnapshotIndexes verifies finding and photo indexing helpers.
func TestSnapshotIndexes(t *testing.T) {
	snap := &InspectionSnapshot{
		ID: "insp-1",
		Checklist: []ChecklistItem{
			{ID: "item-1", Prompt: "Roof condition"},
			{ID: "item-2", Prompt: "Gutter drainage"},
		},
		Findings: []RemoteFinding{
			{ItemID: "item-1", Finding: Finding{Status: StatusPass}},
		},
		Photos: []RemotePhoto{
			{ID: "ph-1", ItemID: "item-1", URL: "https://cdn/1.jpg"},
			{ID: "ph-2", ItemID: "item-1", URL: "https://cdn/2.jpg"},
		},
	}

	byItem := snap.FindingByItem()
	if len(byItem) != 1 {
		t.Fatalf("FindingByItem() size = %d, want 1", len(byItem))
	}
	if byItem["item-1"].Status != StatusPass {
		t.Errorf("item-1 status = %s, want pass", byItem["item-1"].Status)
	}

	counts := snap.PhotoCountByItem()
	if counts["item-1"] != 2 {
		t.Errorf("item-1 photo count = %d, want 2", counts["item-1"])
	}
	if counts["item-2"] != 0 {
		t.Errorf("item-2 photo count = %d, want 0", counts["item-2"])
	}
}
