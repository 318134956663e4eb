package lesson

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StepID identifies a step. Server ids arrive as JSON numbers or strings and
// are kept in their canonical string form.
type StepID string

func (id *StepID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode step id: %w", err)
		}
		*id = StepID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode step id: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = StepID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = StepID(n.String())
	return nil
}

func (id StepID) String() string { return string(id) }

// StepType names the kind of a step.
type StepType string

const (
	StepNormal        StepType = "NORMAL"
	StepClarification StepType = "CLARIFICATION"
	StepConclusion    StepType = "CONCLUSION"
)

func (t *StepType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode step type: %w", err)
	}
	switch StepType(strings.ToUpper(strings.TrimSpace(s))) {
	case StepClarification:
		*t = StepClarification
	case StepConclusion:
		*t = StepConclusion
	default:
		*t = StepNormal
	}
	return nil
}

// Payload holds the content of a step. Fields are optional per step type.
type Payload struct {
	TextToSpeak          string          `json:"textToSpeak,omitempty"`
	CanvasHTMLContent    string          `json:"canvasHtmlContent,omitempty"`
	ConversationQuestion string          `json:"conversationQuestion,omitempty"`
	QuizzesJSON          json.RawMessage `json:"quizzesJson,omitempty"`
}

// Step is one unit of lesson content. Index is assigned by the Sequence.
type Step struct {
	ID      StepID
	Index   int
	Type    StepType
	Status  string
	Payload Payload
}

// HasNarration reports whether audio is expected for the step.
func (s Step) HasNarration() bool {
	return strings.TrimSpace(s.Payload.TextToSpeak) != ""
}

// wireStep accepts both the field names the lesson service emits and the
// shorter aliases.
type wireStep struct {
	ID          StepID   `json:"id"`
	StepType    StepType `json:"stepType"`
	Type        StepType `json:"type"`
	StepStatus  string   `json:"stepStatus"`
	Status      string   `json:"status"`
	StepPayload *Payload `json:"stepPayload"`
	Payload     *Payload `json:"payload"`
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var w wireStep
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	step := Step{ID: w.ID, Type: w.StepType, Status: w.StepStatus}
	if step.Type == "" {
		step.Type = w.Type
	}
	if step.Type == "" {
		step.Type = StepNormal
	}
	if step.Status == "" {
		step.Status = w.Status
	}
	switch {
	case w.StepPayload != nil:
		step.Payload = *w.StepPayload
	case w.Payload != nil:
		step.Payload = *w.Payload
	}
	*s = step
	return nil
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          StepID   `json:"id"`
		Index       int      `json:"index"`
		StepType    StepType `json:"stepType"`
		StepStatus  string   `json:"stepStatus,omitempty"`
		StepPayload Payload  `json:"stepPayload"`
	}{s.ID, s.Index, s.Type, s.Status, s.Payload})
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewStepID synthesizes an id for a step the server sent without one.
// Ids are strictly increasing within the process.
func NewStepID() StepID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return StepID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}
