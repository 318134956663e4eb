package websocket

import (
	"encoding/json"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
)

// Inbound message types
const (
	TypeSessionBootstrap      = "SESSION_BOOTSTRAP"
	TypeNewSteps              = "NEW_STEPS"
	TypeNextStep              = "NEXT_STEP"
	TypeAudioChunk            = "AUDIO_CHUNK"
	TypeAudioEnd              = "AUDIO_END"
	TypeAudioError            = "AUDIO_ERROR"
	TypeClarificationResponse = "CLARIFICATION_RESPONSE"
	TypeLoadInstruction       = "LOAD_INSTRUCTION"
	TypeStepCompletedAck      = "STEP_COMPLETED_ACK"
	TypeSessionCompleted      = "SESSION_COMPLETED"
	TypePong                  = "PONG"
)

// Outbound message types
const (
	TypeStepCompleted = "STEP_COMPLETED"
	TypePing          = "PING"
	TypeUserQuestion  = "USER_QUESTION"
)

// Envelope is decoded first to route a frame by its type.
type Envelope struct {
	Type string `json:"type"`
}

// StepsMessage carries a batch of steps.
type StepsMessage struct {
	Type  string        `json:"type"`
	Steps []lesson.Step `json:"steps"`
}

// StepMessage carries a single step (NEXT_STEP, CLARIFICATION_RESPONSE).
type StepMessage struct {
	Type string       `json:"type"`
	Step *lesson.Step `json:"step"`
}

// AudioChunkMessage carries one base64 chunk of step narration.
type AudioChunkMessage struct {
	Type       string        `json:"type"`
	StepID     lesson.StepID `json:"stepId"`
	ChunkIndex int           `json:"chunkIndex"`
	AudioData  string        `json:"audioData"`
	Encoding   string        `json:"encoding,omitempty"`
}

// AudioEndMessage closes a step's narration stream.
type AudioEndMessage struct {
	Type        string        `json:"type"`
	StepID      lesson.StepID `json:"stepId"`
	TotalChunks int           `json:"totalChunks"`
}

// AudioErrorMessage reports a server-side narration failure.
type AudioErrorMessage struct {
	Type    string        `json:"type"`
	StepID  lesson.StepID `json:"stepId"`
	Message string        `json:"message"`
}

// SessionCompletedMessage signals that no more steps will be sent.
type SessionCompletedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OutboundMessage is the {"type","data"} envelope the lesson service expects.
type OutboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// StepCompletedData is the payload of a step_completed message.
type StepCompletedData struct {
	StepID lesson.StepID `json:"stepId"`
}

// UserQuestionData is the payload of a user_question message.
type UserQuestionData struct {
	QuestionText string `json:"questionText"`
}

func encodeOutbound(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(OutboundMessage{Type: kind, Data: data})
}

// ConnectionState of the channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}
