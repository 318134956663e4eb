package websocket

import (
	"encoding/json"
	"time"

	"github.com/raihanakbr/lesson-session-client/internal/audio"
	"github.com/raihanakbr/lesson-session-client/internal/lesson"
)

// Handler receives typed events from a Channel. Message handlers run on the
// read goroutine in arrival order; state callbacks may run on a timer
// goroutine.
type Handler interface {
	// HandleSteps delivers a step batch. bootstrap is true for SESSION_BOOTSTRAP.
	HandleSteps(steps []lesson.Step, bootstrap bool)
	HandleAudioChunk(chunk audio.Chunk)
	HandleAudioEnd(end audio.End)
	HandleAudioError(e audio.StreamError)
	HandleClarificationLoading()
	HandleClarification(step lesson.Step)
	HandleSessionCompleted(message string)
	HandleConnectionState(state ConnectionState)
	// HandleConnectionLost is terminal; the channel schedules nothing after it.
	HandleConnectionLost(err error)
}

// NopHandler ignores every event. Embed it to implement part of Handler.
type NopHandler struct{}

func (NopHandler) HandleSteps([]lesson.Step, bool)       {}
func (NopHandler) HandleAudioChunk(audio.Chunk)          {}
func (NopHandler) HandleAudioEnd(audio.End)              {}
func (NopHandler) HandleAudioError(audio.StreamError)    {}
func (NopHandler) HandleClarificationLoading()           {}
func (NopHandler) HandleClarification(lesson.Step)       {}
func (NopHandler) HandleSessionCompleted(string)         {}
func (NopHandler) HandleConnectionState(ConnectionState) {}
func (NopHandler) HandleConnectionLost(error)            {}

// dispatch decodes one frame and routes it to the handler.
func (c *Channel) dispatch(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.log.Warn("Error parsing lesson message", "error", err)
		return
	}
	if env.Type == "" {
		c.log.Warn("Lesson message without type", "bytes", len(message))
		return
	}

	switch env.Type {
	case TypeSessionBootstrap, TypeNewSteps:
		var msg StepsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn("Error parsing steps", "type", env.Type, "error", err)
			return
		}
		c.log.Debug("Received steps", "type", env.Type, "count", len(msg.Steps))
		c.handler.HandleSteps(msg.Steps, env.Type == TypeSessionBootstrap)

	case TypeNextStep:
		var msg StepMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Step == nil {
			c.log.Warn("Error parsing next step", "error", err)
			return
		}
		c.handler.HandleSteps([]lesson.Step{*msg.Step}, false)

	case TypeAudioChunk:
		var msg AudioChunkMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn("Error parsing audio chunk", "error", err)
			return
		}
		c.handler.HandleAudioChunk(audio.Chunk{
			StepID:     msg.StepID,
			ChunkIndex: msg.ChunkIndex,
			Payload:    msg.AudioData,
			Encoding:   msg.Encoding,
		})

	case TypeAudioEnd:
		var msg AudioEndMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn("Error parsing audio end", "error", err)
			return
		}
		c.handler.HandleAudioEnd(audio.End{StepID: msg.StepID, TotalChunks: msg.TotalChunks})

	case TypeAudioError:
		var msg AudioErrorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn("Error parsing audio error", "error", err)
			return
		}
		c.handler.HandleAudioError(audio.StreamError{StepID: msg.StepID, Message: msg.Message})

	case TypeLoadInstruction:
		c.handler.HandleClarificationLoading()

	case TypeClarificationResponse:
		var msg StepMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Step == nil {
			c.log.Warn("Error parsing clarification response", "error", err)
			return
		}
		c.handler.HandleClarification(*msg.Step)

	case TypeStepCompletedAck:
		c.log.Debug("Step completion acknowledged")

	case TypeSessionCompleted:
		var msg SessionCompletedMessage
		_ = json.Unmarshal(message, &msg)
		c.mu.Lock()
		c.completed = true
		c.mu.Unlock()
		c.log.Info("Session completed", "message", msg.Message)
		c.handler.HandleSessionCompleted(msg.Message)

	case TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	default:
		c.log.Debug("Ignoring unknown lesson message", "type", env.Type)
	}
}
