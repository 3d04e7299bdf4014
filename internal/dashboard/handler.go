package dashboard

import (
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/wpm/altwatch/internal/daemon"
	"github.com/wpm/altwatch/internal/pipeline"
)

// JobData describes one image moving through the queue.
type JobData struct {
	JobID    string        `json:"job_id"`
	Path     string        `json:"path"`
	Image    string        `json:"image"`
	Status   string        `json:"status,omitempty"`
	AltText  string        `json:"alt_text,omitempty"`
	Notes    string        `json:"notes,omitempty"`
	DocPath  string        `json:"doc_path,omitempty"`
	QueuedAt time.Time     `json:"queued_at,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ScanCompleteData contains scan completion information
type ScanCompleteData struct {
	Dir      string        `json:"dir"`
	Queued   int           `json:"queued"`
	Duration time.Duration `json:"duration"`
}

// StatsData contains queue statistics
type StatsData struct {
	daemon.Stats
	Finished int            `json:"finished"`
	ByStatus map[string]int `json:"by_status"`
}

// Handler turns engine notifications into dashboard messages.
// It implements daemon.Observer.
type Handler struct {
	server *Server
	logger *log.Logger
	engine func() daemon.Stats

	mu       sync.Mutex
	finished int
	byStatus map[string]int
}

var _ daemon.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// engineStats, when set, supplies the live queue counters.
func NewHandler(server *Server, engineStats func() daemon.Stats, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	h := &Handler{
		server:   server,
		logger:   logger,
		engine:   engineStats,
		byStatus: make(map[string]int),
	}
	server.SetSnapshot(h.statsMessage)
	return h
}

// OnQueued handles an image entering the queue
func (h *Handler) OnQueued(item daemon.WorkItem) {
	h.send(MessageTypeJobQueued, jobData(item))
	h.broadcastStats()
}

// OnStarted handles the worker picking up an image
func (h *Handler) OnStarted(item daemon.WorkItem) {
	h.send(MessageTypeJobStarted, jobData(item))
}

// OnFinished handles a processed image
func (h *Handler) OnFinished(item daemon.WorkItem, o *pipeline.Outcome, elapsed time.Duration) {
	data := jobData(item)
	data.Duration = elapsed
	if o != nil {
		data.Status = string(o.Status)
		data.AltText = o.AltText
		data.Notes = o.Notes
		data.DocPath = o.DocPath
	}

	h.mu.Lock()
	h.finished++
	h.byStatus[data.Status]++
	h.mu.Unlock()

	h.send(MessageTypeJobFinished, data)
	h.broadcastStats()
}

// OnScanComplete handles a finished directory scan. Scans that found
// nothing are not broadcast.
func (h *Handler) OnScanComplete(dir string, queued int, elapsed time.Duration) {
	if queued == 0 {
		return
	}
	h.send(MessageTypeScanComplete, ScanCompleteData{Dir: dir, Queued: queued, Duration: elapsed})
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := StatsData{
		Finished: h.finished,
		ByStatus: make(map[string]int, len(h.byStatus)),
	}
	for k, v := range h.byStatus {
		stats.ByStatus[k] = v
	}
	if h.engine != nil {
		stats.Stats = h.engine()
	}
	return stats
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

func jobData(item daemon.WorkItem) JobData {
	return JobData{
		JobID:    item.ID,
		Path:     item.Path,
		Image:    filepath.Base(item.Path),
		QueuedAt: item.QueuedAt,
	}
}
