package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

var (
	ErrMissingHeader = errors.New("stream must start at chunk 1")
	ErrOutOfOrder    = errors.New("audio chunk out of order")
	ErrStreamEnded   = errors.New("audio chunk after end of stream")
	ErrAppendFailed  = errors.New("playback device rejected audio chunk")
	ErrServerAudio   = errors.New("server reported audio error")
	ErrManagerClosed = errors.New("audio manager is closed")
)

// Callbacks are invoked without any manager lock held.
type Callbacks struct {
	OnStart    func(stepID lesson.StepID)
	OnComplete func(stepID lesson.StepID)
	OnError    func(stepID lesson.StepID, err error)
}

// stepState is the live playback state of one step. It is discarded when
// playback ends or fails; finished chunk lists survive in the ReplayCache.
type stepState struct {
	stepID    lesson.StepID
	encoding  string
	pipeline  Pipeline
	queue     []Buffer
	expected  int
	appending bool
	hasError  bool
	ending    bool
	ended     bool
	replay    bool
	cached    []Buffer
}

// Manager turns ordered per-step chunk streams into pipeline playback.
type Manager struct {
	mu      sync.Mutex
	device  Device
	decoder Decoder
	cache   *ReplayCache
	streams map[lesson.StepID]*stepState
	cb      Callbacks
	closed  bool
	log     *logger.Logger
}

// NewManager returns a Manager playing through device. Callbacks may be nil.
func NewManager(device Device, cb Callbacks, log *logger.Logger) *Manager {
	return &Manager{
		device:  device,
		cache:   NewReplayCache(),
		streams: make(map[lesson.StepID]*stepState),
		cb:      cb,
		log:     logger.OrNop(log).With("component", "StepAudioStreamManager"),
	}
}

// HandleChunk accepts one chunk. The first chunk of a stream must be index 1
// since it carries the container header.
func (m *Manager) HandleChunk(c Chunk) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	st := m.streams[c.StepID]
	if st == nil {
		if c.ChunkIndex != 1 {
			m.mu.Unlock()
			err := fmt.Errorf("%w: step %s got chunk %d", ErrMissingHeader, c.StepID, c.ChunkIndex)
			m.report(c.StepID, err)
			return err
		}
		buf, err := m.decoder.Decode(c.Payload, c.Encoding)
		if err != nil {
			m.mu.Unlock()
			m.report(c.StepID, err)
			return err
		}
		enc := NormalizeEncoding(c.Encoding)
		p, err := m.device.NewPipeline(c.StepID, enc)
		if err != nil {
			m.mu.Unlock()
			err = fmt.Errorf("create pipeline: %w", err)
			m.report(c.StepID, err)
			return err
		}
		st = &stepState{
			stepID:   c.StepID,
			encoding: enc,
			pipeline: p,
			expected: 2,
			queue:    []Buffer{buf},
			cached:   []Buffer{buf},
		}
		m.install(st)
		m.mu.Unlock()

		m.start(st)
		m.pump(st)
		return nil
	}

	if st.ending {
		m.mu.Unlock()
		m.log.Warn("Dropping chunk after end of stream", "step_id", c.StepID, "chunk_index", c.ChunkIndex)
		return fmt.Errorf("%w: step %s chunk %d", ErrStreamEnded, c.StepID, c.ChunkIndex)
	}
	if c.ChunkIndex != st.expected {
		expected := st.expected
		p := m.teardownLocked(st)
		m.mu.Unlock()
		p.Release()
		err := fmt.Errorf("%w: step %s expected %d got %d", ErrOutOfOrder, c.StepID, expected, c.ChunkIndex)
		m.report(c.StepID, err)
		return err
	}
	st.expected++

	buf, err := m.decoder.Decode(c.Payload, st.encoding)
	if err != nil {
		p := m.teardownLocked(st)
		m.mu.Unlock()
		p.Release()
		m.report(c.StepID, err)
		return err
	}
	st.cached = append(st.cached, buf)
	st.queue = append(st.queue, buf)
	m.mu.Unlock()

	m.pump(st)
	return nil
}

// HandleEnd snapshots the stream for replay, ends it once queued appends are
// done and fires OnComplete. It returns false when the step had no live
// stream to end.
func (m *Manager) HandleEnd(e End) bool {
	m.mu.Lock()
	st := m.streams[e.StepID]
	if st == nil || st.replay || st.ending {
		m.mu.Unlock()
		m.log.Debug("Audio end without live stream", "step_id", e.StepID)
		return false
	}
	st.ending = true
	m.cache.Store(e.StepID, st.encoding, st.cached)
	received := len(st.cached)
	m.mu.Unlock()

	if e.TotalChunks != received {
		m.log.Warn("Audio end chunk count mismatch", "step_id", e.StepID, "total_chunks", e.TotalChunks, "received", received)
	}
	m.log.Debug("Audio stream completed", "step_id", e.StepID, "chunks", received)

	m.pump(st)
	if m.cb.OnComplete != nil {
		m.cb.OnComplete(e.StepID)
	}
	return true
}

// HandleError drops the live stream without firing OnComplete.
func (m *Manager) HandleError(e StreamError) {
	m.mu.Lock()
	var p Pipeline
	if st := m.streams[e.StepID]; st != nil {
		p = m.teardownLocked(st)
	}
	m.mu.Unlock()
	if p != nil {
		p.Release()
	}
	m.report(e.StepID, fmt.Errorf("%w: %s", ErrServerAudio, e.Message))
}

// Replay plays the cached chunks of a finished stream through a new
// pipeline. It returns false when nothing is cached for the step.
func (m *Manager) Replay(stepID lesson.StepID) bool {
	encoding, chunks, ok := m.cache.Load(stepID)
	if !ok {
		m.log.Warn("No cached audio for replay", "step_id", stepID)
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	var old Pipeline
	if prev := m.streams[stepID]; prev != nil {
		old = m.teardownLocked(prev)
	}
	p, err := m.device.NewPipeline(stepID, encoding)
	if err != nil {
		m.mu.Unlock()
		if old != nil {
			old.Release()
		}
		m.report(stepID, fmt.Errorf("create replay pipeline: %w", err))
		return false
	}
	st := &stepState{
		stepID:   stepID,
		encoding: encoding,
		pipeline: p,
		expected: len(chunks) + 1,
		queue:    chunks,
		cached:   chunks,
		ending:   true,
		replay:   true,
	}
	m.install(st)
	m.mu.Unlock()

	if old != nil {
		old.Release()
	}
	m.log.Debug("Replaying audio", "step_id", stepID, "chunks", len(chunks))
	m.start(st)
	m.pump(st)
	return true
}

// IsStreaming reports whether the step has a live pipeline.
func (m *Manager) IsStreaming(stepID lesson.StepID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[stepID] != nil
}

// Cached returns the number of chunks kept for replay.
func (m *Manager) Cached(stepID lesson.StepID) int {
	return m.cache.Len(stepID)
}

// Close releases every live pipeline. Later chunks are rejected.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pipelines := make([]Pipeline, 0, len(m.streams))
	for id, st := range m.streams {
		st.hasError = true
		pipelines = append(pipelines, st.pipeline)
		delete(m.streams, id)
	}
	m.mu.Unlock()

	for _, p := range pipelines {
		p.Release()
	}
}

func (m *Manager) install(st *stepState) {
	m.streams[st.stepID] = st
	st.pipeline.OnEnded(func() { m.onEnded(st) })
}

func (m *Manager) start(st *stepState) {
	if err := st.pipeline.Play(); err != nil {
		m.log.Warn("Playback start blocked, waiting for device", "step_id", st.stepID, "error", err)
	}
	if m.cb.OnStart != nil {
		m.cb.OnStart(st.stepID)
	}
}

// pump appends the next queued buffer unless one is already in flight, and
// ends the stream once the queue is drained after an end was requested.
func (m *Manager) pump(st *stepState) {
	m.mu.Lock()
	if st.appending || m.streams[st.stepID] != st {
		m.mu.Unlock()
		return
	}
	if len(st.queue) == 0 {
		if !st.ending || st.ended {
			m.mu.Unlock()
			return
		}
		st.ended = true
		p, replay := st.pipeline, st.replay
		m.mu.Unlock()

		if err := p.EndOfStream(); err != nil {
			m.log.Warn("End of stream failed", "step_id", st.stepID, "error", err)
		}
		if replay && m.cb.OnComplete != nil {
			m.cb.OnComplete(st.stepID)
		}
		return
	}
	buf := st.queue[0]
	st.queue = st.queue[1:]
	st.appending = true
	p := st.pipeline
	m.mu.Unlock()

	p.Append(buf, func(err error) { m.appendDone(st, err) })
}

func (m *Manager) appendDone(st *stepState, err error) {
	m.mu.Lock()
	st.appending = false
	if m.streams[st.stepID] != st {
		m.mu.Unlock()
		return
	}
	if err != nil {
		p := m.teardownLocked(st)
		m.mu.Unlock()
		p.Release()
		m.report(st.stepID, fmt.Errorf("%w: %v", ErrAppendFailed, err))
		return
	}
	m.mu.Unlock()
	m.pump(st)
}

func (m *Manager) onEnded(st *stepState) {
	m.mu.Lock()
	if m.streams[st.stepID] == st {
		delete(m.streams, st.stepID)
	}
	m.mu.Unlock()
	st.pipeline.Release()
}

// teardownLocked removes st from the live set. The caller releases the
// returned pipeline after unlocking.
func (m *Manager) teardownLocked(st *stepState) Pipeline {
	st.hasError = true
	st.queue = nil
	if m.streams[st.stepID] == st {
		delete(m.streams, st.stepID)
	}
	return st.pipeline
}

func (m *Manager) report(stepID lesson.StepID, err error) {
	m.log.Warn("Step audio failed", "step_id", stepID, "error", err)
	if m.cb.OnError != nil {
		m.cb.OnError(stepID, err)
	}
}
