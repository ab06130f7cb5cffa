package common

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
	"routecodex-go/internal/monitoring"
)

// Snapshot is one captured request/response pair. Bodies are raw JSON,
// truncated at the snapshot limit; streamed responses record only the
// line count.
type Snapshot struct {
	Time        time.Time       `json:"time"`
	RequestID   string          `json:"request_id"`
	Surface     string          `json:"surface"`
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Model       string          `json:"model,omitempty"`
	Category    string          `json:"category,omitempty"`
	PipelineID  string          `json:"pipeline_id,omitempty"`
	Status      int             `json:"status"`
	Stream      bool            `json:"stream,omitempty"`
	StreamLines int             `json:"stream_lines,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Truncated   bool            `json:"truncated,omitempty"`
}

// Recorder appends snapshots as JSONL under <dir>/<yyyy-mm-dd>.jsonl.
// Writes run on a single background goroutine and are best effort: a
// full queue drops the snapshot instead of stalling the request path.
type Recorder struct {
	dir   string
	queue chan Snapshot
	done  chan struct{}
}

// NewRecorder starts the capture goroutine. dir is created on first
// write, not here, so a recorder on a read-only volume costs nothing
// until debug traffic actually arrives.
func NewRecorder(dir string) *Recorder {
	r := &Recorder{
		dir:   dir,
		queue: make(chan Snapshot, 128),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues one snapshot. Never blocks.
func (r *Recorder) Record(s Snapshot) {
	s.truncate()
	select {
	case r.queue <- s:
	default:
		monitoring.SnapshotCapturesTotal.WithLabelValues("dropped").Inc()
	}
}

// Close drains pending snapshots and stops the goroutine.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}

func (s *Snapshot) truncate() {
	if len(s.Request) > constants.SnapshotBodyLimit {
		s.Request = s.Request[:constants.SnapshotBodyLimit]
		s.Truncated = true
	}
	if len(s.Response) > constants.SnapshotBodyLimit {
		s.Response = s.Response[:constants.SnapshotBodyLimit]
		s.Truncated = true
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for s := range r.queue {
		if err := r.write(s); err != nil {
			log.WithError(err).Debug("request snapshot write failed")
			continue
		}
		monitoring.SnapshotCapturesTotal.WithLabelValues(s.Surface).Inc()
	}
}

func (r *Recorder) write(s Snapshot) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	// 截断后的 body 可能不再是合法 JSON，降级为字符串字段
	if s.Truncated {
		if len(s.Request) > 0 && !json.Valid(s.Request) {
			quoted, _ := json.Marshal(string(s.Request))
			s.Request = quoted
		}
		if len(s.Response) > 0 && !json.Valid(s.Response) {
			quoted, _ := json.Marshal(string(s.Response))
			s.Response = quoted
		}
	}
	line, err := json.Marshal(s)
	if err != nil {
		return err
	}
	name := filepath.Join(r.dir, s.Time.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
