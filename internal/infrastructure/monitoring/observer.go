package monitoring

import "sync"

// ProgressEvent is what a ProgressSink receives as montages are submitted
// and completed. It generalizes spec.md §4.7's "progress callbacks"
// (index, total, name) with the terminal status, so a single sink
// interface serves both the sequential pre-unit callback and the
// parallel-mode out-of-order completion callback.
type ProgressEvent struct {
	Index     int // 1-based submission index
	Total     int
	Montage   string
	Completed int // monotonically increasing completed counter (parallel mode)
	Status    string // "", "started", "completed", "failed"
}

// ProgressSink receives progress events from the Runner. Implementations
// must not block the Runner for long; slow sinks (a network socket) should
// buffer internally.
type ProgressSink interface {
	OnProgress(ProgressEvent)
}

// LogSink adapts a Logger into a ProgressSink, the always-on sink every
// Runner construction wires by default.
type LogSink struct {
	log *Logger
}

// NewLogSink wraps log as a ProgressSink.
func NewLogSink(log *Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) OnProgress(ev ProgressEvent) {
	switch ev.Status {
	case "started":
		s.log.zl.Info().Int("index", ev.Index).Int("total", ev.Total).Str("montage", ev.Montage).Msg("montage started")
	case "completed":
		s.log.zl.Info().Int("completed", ev.Completed).Int("total", ev.Total).Str("montage", ev.Montage).Msg("montage progress")
	case "failed":
		s.log.zl.Warn().Int("completed", ev.Completed).Int("total", ev.Total).Str("montage", ev.Montage).Msg("montage progress (failed)")
	default:
		s.log.zl.Info().Int("index", ev.Index).Int("total", ev.Total).Str("montage", ev.Montage).Msg("progress")
	}
}

// ObserverManager fans a progress event out to every registered sink,
// grounded on the teacher's ObserverManager (internal/infrastructure/
// monitoring before this module's transform): a mutex-guarded slice
// notified under a read lock, generalized from the workflow-execution
// event surface down to this module's single ProgressEvent shape.
type ObserverManager struct {
	mu    sync.RWMutex
	sinks []ProgressSink
}

// NewObserverManager returns an empty manager.
func NewObserverManager() *ObserverManager {
	return &ObserverManager{}
}

// AddSink registers sink. Safe for concurrent use.
func (m *ObserverManager) AddSink(sink ProgressSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Notify fans ev out to every registered sink.
func (m *ObserverManager) Notify(ev ProgressEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.OnProgress(ev)
	}
}
