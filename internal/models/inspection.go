// Package models provides data model definitions for the inspector sync core.
package models

// ChecklistItem is one question within an inspection template section.
type ChecklistItem struct {
	ID      UUID   `json:"id"`
	Section string `json:"section,omitempty"`
	Prompt  string `json:"prompt"`
}

// RemoteFinding is a server-confirmed finding for one checklist item.
type RemoteFinding struct {
	ItemID  UUID    `json:"item_id"`
	Finding Finding `json:"finding"`
}

// RemotePhoto is a server-confirmed photo attached to a checklist item.
type RemotePhoto struct {
	ID     UUID   `json:"id"`
	ItemID UUID   `json:"item_id"`
	URL    string `json:"url"`
}

// InspectionSnapshot is the server's view of an inspection: the checklist
// plus every finding and photo it has already acknowledged.
type InspectionSnapshot struct {
	ID        UUID            `json:"id"`
	Status    string          `json:"status"`
	Checklist []ChecklistItem `json:"checklist"`
	Findings  []RemoteFinding `json:"findings"`
	Photos    []RemotePhoto   `json:"photos"`
}

// FindingByItem indexes server findings by checklist item id.
func (s *InspectionSnapshot) FindingByItem() map[UUID]Finding {
	out := make(map[UUID]Finding, len(s.Findings))
	for _, f := range s.Findings {
		out[f.ItemID] = f.Finding
	}
	return out
}

// PhotoCountByItem counts server photos per checklist item id.
func (s *InspectionSnapshot) PhotoCountByItem() map[UUID]int {
	out := make(map[UUID]int)
	for _, p := range s.Photos {
		out[p.ItemID]++
	}
	return out
}

// Progress is the derived completion state of an inspection's checklist.
// Completed counts items with either a server-confirmed finding or an
// active local pending finding; the union is de-duplicated by item id.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}
