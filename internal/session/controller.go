package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/raihanakbr/lesson-session-client/internal/audio"
	"github.com/raihanakbr/lesson-session-client/internal/auth"
	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
	"github.com/raihanakbr/lesson-session-client/internal/websocket"
)

// Transport is the outbound side of the lesson connection.
type Transport interface {
	Open(ctx context.Context, sessionID, token string) error
	SendStepCompleted(stepID lesson.StepID) error
	SendMessage(kind string, data interface{}) error
	Close() error
}

// TransportFactory builds a Transport that delivers its events to h.
type TransportFactory func(h websocket.Handler) Transport

// Controller binds the step sequence, narration gating and user actions
// for one lesson session.
type Controller struct {
	cfg       Config
	tokens    auth.TokenStore
	transport Transport
	manager   *audio.Manager
	log       *logger.Logger

	// actionMu serializes user actions that talk to the transport.
	actionMu sync.Mutex

	mu              sync.Mutex
	phase           Phase
	err             error
	seq             *lesson.Sequence
	current         int
	waiting         bool
	audio           map[lesson.StepID]audioStatus
	speaking        lesson.StepID
	audioDone       []lesson.StepID
	stepsDone       []lesson.StepID
	clar            Clarification
	conn            websocket.ConnectionState
	exitRequested   bool
	serverCompleted bool
	started         bool
	listeners       []func(Snapshot)
}

// New builds a controller in the LOADING phase. The transport is created
// with the controller as its event handler.
func New(cfg Config, tokens auth.TokenStore, newTransport TransportFactory, device audio.Device, log *logger.Logger) *Controller {
	if cfg.AudioErrorPolicy == "" {
		cfg.AudioErrorPolicy = AudioErrorUnblock
	}
	c := &Controller{
		cfg:     cfg,
		tokens:  tokens,
		log:     logger.OrNop(log).With("component", "LessonSessionController"),
		phase:   PhaseLoading,
		seq:     lesson.NewSequence(),
		current: -1,
		audio:   make(map[lesson.StepID]audioStatus),
	}
	c.manager = audio.NewManager(device, audio.Callbacks{
		OnStart:    c.onAudioStart,
		OnComplete: c.onAudioComplete,
		OnError:    c.onAudioError,
	}, log)
	c.transport = newTransport(c)
	return c
}

// Start opens the session. A missing token fails the session without
// touching the network.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	token, ok := c.tokens.Get()
	if !ok {
		c.fail(auth.ErrNoCredential)
		return auth.ErrNoCredential
	}
	if err := c.transport.Open(ctx, sessionID, token); err != nil {
		c.fail(err)
		return err
	}
	c.log.Info("Lesson session started", "session_id", sessionID)
	return nil
}

// Next completes the current step and moves on. It is rejected while the
// current step's narration is still pending.
func (c *Controller) Next() error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	c.mu.Lock()
	if c.phase != PhaseActive && c.phase != PhaseDisconnected {
		c.mu.Unlock()
		return ErrNotActive
	}
	step, ok := c.seq.At(c.current)
	if !ok {
		c.mu.Unlock()
		return ErrNoCurrentStep
	}
	switch c.gateLocked() {
	case GateWaitingForSteps:
		c.mu.Unlock()
		return ErrWaitingForSteps
	case GateAwaitingAudio:
		c.mu.Unlock()
		return ErrAudioPending
	}
	serverCompleted := c.serverCompleted
	c.mu.Unlock()

	if err := c.transport.SendStepCompleted(step.ID); err != nil {
		if !serverCompleted {
			return err
		}
		c.log.Warn("Step completion not delivered after session completed", "step_id", step.ID, "error", err)
	}

	c.mu.Lock()
	if c.current != step.Index || c.phase.Terminal() {
		c.mu.Unlock()
		return nil
	}
	c.stepsDone = append(c.stepsDone, step.ID)
	switch {
	case c.current+1 < c.seq.Len():
		c.current++
	case c.serverCompleted:
		c.phase = PhaseCompleted
	default:
		c.waiting = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Debug("Advanced", "step_id", step.ID, "current", snap.CurrentIndex, "gate", snap.Gate)
	c.emit(snap)
	if snap.Phase == PhaseCompleted {
		c.shutdown()
	}
	return nil
}

// ComeAgain replays the current step's narration. It returns false when
// nothing is cached for the step.
func (c *Controller) ComeAgain() bool {
	c.mu.Lock()
	step, ok := c.seq.At(c.current)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.manager.Replay(step.ID)
}

// Ask sends a free-form question and returns its id.
func (c *Controller) Ask(question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	c.mu.Lock()
	if c.phase.Terminal() || c.phase == PhaseLoading {
		c.mu.Unlock()
		return "", ErrNotActive
	}
	c.mu.Unlock()

	if err := c.transport.SendMessage(websocket.TypeUserQuestion, websocket.UserQuestionData{QuestionText: question}); err != nil {
		return "", err
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.clar.Questions = append(c.clar.Questions, Question{ID: id, Text: question})
	c.clar.Loading = true
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	return id, nil
}

// ClearClarification hides the latest response. History is kept.
func (c *Controller) ClearClarification() {
	c.update(func() { c.clar.Response = nil })
}

// RequestExit asks for exit confirmation.
func (c *Controller) RequestExit() {
	c.update(func() {
		if !c.phase.Terminal() {
			c.exitRequested = true
		}
	})
}

// CancelExit withdraws a pending exit request.
func (c *Controller) CancelExit() {
	c.update(func() { c.exitRequested = false })
}

// ConfirmExit leaves the session. It requires a prior RequestExit.
func (c *Controller) ConfirmExit() error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	c.mu.Lock()
	if !c.exitRequested {
		c.mu.Unlock()
		return ErrExitNotRequested
	}
	c.exitRequested = false
	if !c.phase.Terminal() {
		c.phase = PhaseExited
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.shutdown()
	c.log.Info("Lesson session exited")
	c.emit(snap)
	return nil
}

// Close tears the session down without the exit handshake, for process
// shutdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	if !c.phase.Terminal() {
		c.phase = PhaseExited
	}
	c.mu.Unlock()
	return c.shutdown()
}

func (c *Controller) shutdown() error {
	err := c.transport.Close()
	c.manager.Close()
	return err
}

// Steps returns a copy of the step sequence.
func (c *Controller) Steps() []lesson.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq.Snapshot()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// OnChange registers fn to run after every state change, without locks held.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseFailed
	c.err = err
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if errors.Is(err, auth.ErrNoCredential) {
		c.log.Error("Session failed: no access token")
	} else {
		c.log.Error("Session failed", "error", err)
	}
	c.emit(snap)
}

// update applies fn under the lock and notifies listeners.
func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

func (c *Controller) emit(snap Snapshot) {
	c.mu.Lock()
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (c *Controller) gateLocked() Gate {
	step, ok := c.seq.At(c.current)
	if !ok {
		return GateNone
	}
	if c.waiting {
		return GateWaitingForSteps
	}
	switch c.audio[step.ID] {
	case audioComplete:
		return GateReadyToAdvance
	case audioFailed:
		if c.cfg.AudioErrorPolicy == AudioErrorBlock {
			return GateAwaitingAudio
		}
		return GateReadyToAdvance
	case audioStreaming:
		return GateAwaitingAudio
	case audioEmpty:
		return GateNoAudio
	}
	if step.HasNarration() {
		return GateAwaitingAudio
	}
	return GateNoAudio
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:           c.phase,
		Gate:            c.gateLocked(),
		CurrentIndex:    c.current,
		StepCount:       c.seq.Len(),
		AudioCompleted:  append([]lesson.StepID(nil), c.audioDone...),
		StepsCompleted:  append([]lesson.StepID(nil), c.stepsDone...),
		Connection:      c.conn,
		ExitRequested:   c.exitRequested,
		ServerCompleted: c.serverCompleted,
		Err:             c.err,
	}
	if step, ok := c.seq.At(c.current); ok {
		s.Current = &step
		s.Speaking = c.speaking != "" && c.speaking == step.ID
	}
	s.Clarification = Clarification{
		Loading:   c.clar.Loading,
		Questions: append([]Question(nil), c.clar.Questions...),
		Response:  c.clar.Response,
	}
	return s
}
