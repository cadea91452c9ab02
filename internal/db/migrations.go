// Package db provides database schema migration management.
package db

// migrations is the ordered schema registry for the queue database.
// Append-only: released versions must never be edited (the migrator
// verifies checksums of applied versions on startup).
var migrations = []migrationStep{
	{
		Version:     1,
		Description: "pending_findings",
		SQL: `
		CREATE TABLE pending_findings (
			id TEXT PRIMARY KEY,
			inspection_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pass','fail','needs_attention','urgent','na')),
			notes TEXT NOT NULL DEFAULT '',
			numeric_value REAL,
			response TEXT NOT NULL DEFAULT '',
			queued_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'pending'
				CHECK(sync_state IN ('pending','syncing','synced','failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			UNIQUE(inspection_id, item_id)
		);
		CREATE INDEX idx_pending_findings_inspection ON pending_findings(inspection_id);
		`,
	},
	{
		Version:     2,
		Description: "pending_photos",
		SQL: `
		CREATE TABLE pending_photos (
			id TEXT PRIMARY KEY,
			inspection_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			blob_path TEXT NOT NULL,
			preview_path TEXT NOT NULL DEFAULT '',
			remote_id TEXT NOT NULL DEFAULT '',
			remote_url TEXT NOT NULL DEFAULT '',
			captured_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'pending'
				CHECK(sync_state IN ('pending','syncing','synced','failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX idx_pending_photos_inspection ON pending_photos(inspection_id);
		CREATE INDEX idx_pending_photos_item ON pending_photos(inspection_id, item_id);
		`,
	},
}
