package common

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"routecodex-go/internal/constants"
)

func TestRecorderWritesDailyJSONL(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir)

	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	rec.Record(Snapshot{
		Time:      at,
		RequestID: "req-1",
		Surface:   "openaiChat",
		Method:    "POST",
		Path:      "/v1/chat/completions",
		Model:     "gpt-4o",
		Status:    200,
		Request:   json.RawMessage(`{"model":"gpt-4o"}`),
		Response:  json.RawMessage(`{"id":"chatcmpl-1"}`),
	})
	rec.Record(Snapshot{
		Time:      at.Add(time.Minute),
		RequestID: "req-2",
		Surface:   "openaiChat",
		Method:    "POST",
		Path:      "/v1/chat/completions",
		Status:    502,
		ErrorCode: "upstream_error",
	})
	rec.Close()

	f, err := os.Open(filepath.Join(dir, "2026-03-14.jsonl"))
	if err != nil {
		t.Fatalf("open daily file: %v", err)
	}
	defer f.Close()

	var got []Snapshot
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s Snapshot
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		got = append(got, s)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0].RequestID != "req-1" || got[1].RequestID != "req-2" {
		t.Fatalf("order lost: %q then %q", got[0].RequestID, got[1].RequestID)
	}
	if string(got[0].Request) != `{"model":"gpt-4o"}` {
		t.Fatalf("request body = %s", got[0].Request)
	}
	if got[1].ErrorCode != "upstream_error" {
		t.Fatalf("error_code = %q", got[1].ErrorCode)
	}
}

func TestRecorderTruncatesOversizedBodies(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir)

	big := `{"pad":"` + strings.Repeat("x", constants.SnapshotBodyLimit) + `"}`
	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	rec.Record(Snapshot{
		Time:      at,
		RequestID: "req-big",
		Surface:   "anthropicMessages",
		Status:    200,
		Request:   json.RawMessage(big),
	})
	rec.Close()

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-14.jsonl"))
	if err != nil {
		t.Fatalf("read daily file: %v", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data[:len(data)-1], &s); err != nil {
		t.Fatalf("line must stay valid JSON after truncation: %v", err)
	}
	if !s.Truncated {
		t.Fatal("Truncated flag not set")
	}
	if len(s.Request) > constants.SnapshotBodyLimit+2 {
		t.Fatalf("request not truncated: %d bytes", len(s.Request))
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	// 不启动消费协程，队列填满后 Record 仍不能阻塞
	rec := &Recorder{dir: t.TempDir(), queue: make(chan Snapshot, 1), done: make(chan struct{})}
	rec.Record(Snapshot{RequestID: "a"})

	done := make(chan struct{})
	go func() {
		rec.Record(Snapshot{RequestID: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
