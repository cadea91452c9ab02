package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the hub's register channel a moment before publishing.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return env
}

func TestHub_BroadcastsSyncLifecycle(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	conn := dialTestHub(t, h)

	h.SyncStarted("insp-1", 3)
	env := readEnvelope(t, conn)
	if env.Type != EventSyncStarted {
		t.Fatalf("type = %s, want %s", env.Type, EventSyncStarted)
	}
	if env.Data["inspection_id"] != "insp-1" {
		t.Errorf("inspection_id = %v", env.Data["inspection_id"])
	}

	h.SyncCompleted("insp-1", &syncengine.SyncResult{
		FindingsSynced: 2,
		PhotosUploaded: 1,
		Errors:         []string{"photo for item item-3: upload rejected (status 500)"},
	})
	env = readEnvelope(t, conn)
	if env.Type != EventSyncCompleted {
		t.Fatalf("type = %s, want %s", env.Type, EventSyncCompleted)
	}
	if got := env.Data["findings_synced"].(float64); got != 2 {
		t.Errorf("findings_synced = %v, want 2", got)
	}
	if errs := env.Data["errors"].([]interface{}); len(errs) != 1 {
		t.Errorf("errors = %v, want one", errs)
	}
}

func TestHub_ProgressPercent(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	conn := dialTestHub(t, h)

	h.SyncProgress("insp-1", 1, 4, "item-2")
	env := readEnvelope(t, conn)
	if env.Type != EventSyncProgress {
		t.Fatalf("type = %s, want %s", env.Type, EventSyncProgress)
	}
	if got := env.Data["percent"].(float64); got != 25 {
		t.Errorf("percent = %v, want 25", got)
	}
}

func TestHub_QueueChanged(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	conn := dialTestHub(t, h)

	h.QueueChanged("insp-1", queue.Stats{Pending: 2, Failed: 1})
	env := readEnvelope(t, conn)
	if env.Type != EventQueueChanged {
		t.Fatalf("type = %s, want %s", env.Type, EventQueueChanged)
	}
	if got := env.Data["failed"].(float64); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestHub_FansOutToAllClients(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	first := dialTestHub(t, h)
	second := dialTestHub(t, h)

	h.SyncStarted("insp-1", 1)
	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		if env.Type != EventSyncStarted {
			t.Errorf("type = %s, want %s", env.Type, EventSyncStarted)
		}
	}
}
