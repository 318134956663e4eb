package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/websocket"
)

var (
	ErrAudioPending     = errors.New("narration for the current step has not finished")
	ErrWaitingForSteps  = errors.New("waiting for the next step from the server")
	ErrNotActive        = errors.New("session is not active")
	ErrNoCurrentStep    = errors.New("no current step")
	ErrExitNotRequested = errors.New("exit was not requested")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrAlreadyStarted   = errors.New("session already started")
)

// Phase is the session-level state.
type Phase string

const (
	PhaseLoading      Phase = "LOADING"
	PhaseActive       Phase = "ACTIVE"
	PhaseDisconnected Phase = "DISCONNECTED"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseExited       Phase = "EXITED"
	PhaseFailed       Phase = "FAILED"
)

// Terminal phases never change again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseExited || p == PhaseFailed
}

// Gate says whether Next is allowed on the current step.
type Gate string

const (
	GateNone            Gate = ""
	GateNoAudio         Gate = "NO_AUDIO"
	GateAwaitingAudio   Gate = "AWAITING_AUDIO"
	GateReadyToAdvance  Gate = "READY_TO_ADVANCE"
	GateWaitingForSteps Gate = "WAITING_FOR_STEPS"
)

// AudioErrorPolicy decides the gate after a step's audio failed.
type AudioErrorPolicy string

const (
	// AudioErrorUnblock lets the user advance past failed narration.
	AudioErrorUnblock AudioErrorPolicy = "unblock"
	// AudioErrorBlock keeps the step gated until audio completes.
	AudioErrorBlock AudioErrorPolicy = "block"
)

// ParseAudioErrorPolicy maps a config value to a policy. Empty means unblock.
func ParseAudioErrorPolicy(s string) (AudioErrorPolicy, error) {
	switch AudioErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AudioErrorUnblock:
		return AudioErrorUnblock, nil
	case AudioErrorBlock:
		return AudioErrorBlock, nil
	default:
		return "", fmt.Errorf("unknown audio error policy %q", s)
	}
}

// Config holds the controller settings.
type Config struct {
	AudioErrorPolicy AudioErrorPolicy
}

// DefaultConfig returns a Config that unblocks on audio errors.
func DefaultConfig() Config {
	return Config{AudioErrorPolicy: AudioErrorUnblock}
}

type audioStatus int

const (
	audioNone audioStatus = iota
	audioStreaming
	audioComplete
	audioFailed
	// audioEmpty marks a stream that ended before any chunk arrived.
	audioEmpty
)

// Question is one free-form user question and the response paired with it.
type Question struct {
	ID       string
	Text     string
	Response *lesson.Step
}

// Clarification is the question and answer side channel of a session.
type Clarification struct {
	Loading   bool
	Questions []Question
	// Response is the latest visible response, cleared by ClearClarification.
	Response *lesson.Step
}

// Snapshot is a copy of the controller state; callers may keep it.
type Snapshot struct {
	Phase           Phase
	Gate            Gate
	CurrentIndex    int
	Current         *lesson.Step
	StepCount       int
	Speaking        bool
	AudioCompleted  []lesson.StepID
	StepsCompleted  []lesson.StepID
	Clarification   Clarification
	Connection      websocket.ConnectionState
	ExitRequested   bool
	ServerCompleted bool
	Err             error
}

// CanAdvance reports whether Next would be accepted.
func (s Snapshot) CanAdvance() bool {
	if s.Phase != PhaseActive && s.Phase != PhaseDisconnected {
		return false
	}
	return s.Gate == GateNoAudio || s.Gate == GateReadyToAdvance
}
