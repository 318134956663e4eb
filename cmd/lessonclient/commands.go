package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/session"
)

const helpText = "Commands: next | again | ask <question> | exit | yes | no | status | steps | help"

// lessonActions is the part of the controller the command loop drives.
type lessonActions interface {
	Next() error
	ComeAgain() bool
	Ask(question string) (string, error)
	RequestExit()
	CancelExit()
	ConfirmExit() error
	Snapshot() session.Snapshot
	Steps() []lesson.Step
}

// execute runs one input line. It returns true once the user left the session.
func execute(ctrl lessonActions, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	name, rest, _ := strings.Cut(line, " ")

	switch strings.ToLower(name) {
	case "next", "n":
		switch err := ctrl.Next(); {
		case err == nil:
		case errors.Is(err, session.ErrAudioPending):
			fmt.Fprintln(out, "Still narrating; wait for the audio to finish or type `again` later.")
		case errors.Is(err, session.ErrWaitingForSteps):
			fmt.Fprintln(out, "Waiting for the next step from the tutor...")
		default:
			fmt.Fprintf(out, "Cannot advance: %v\n", err)
		}
	case "again", "a":
		if !ctrl.ComeAgain() {
			fmt.Fprintln(out, "Nothing to replay for this step yet.")
		}
	case "ask", "?":
		if _, err := ctrl.Ask(rest); err != nil {
			fmt.Fprintf(out, "Question not sent: %v\n", err)
		}
	case "exit", "quit", "q":
		ctrl.RequestExit()
		fmt.Fprintln(out, "Leave the lesson? (yes/no)")
	case "yes", "y":
		if err := ctrl.ConfirmExit(); err != nil {
			fmt.Fprintln(out, "Type `exit` first to leave the lesson.")
			return false
		}
		return true
	case "no":
		ctrl.CancelExit()
		fmt.Fprintln(out, "Staying in the lesson.")
	case "status", "s":
		fmt.Fprintln(out, describe(ctrl.Snapshot()))
	case "steps":
		snap := ctrl.Snapshot()
		for _, step := range ctrl.Steps() {
			marker := " "
			if step.Index == snap.CurrentIndex {
				marker = ">"
			}
			fmt.Fprintf(out, "%s %d. [%s] %s\n", marker, step.Index+1, step.Type, summary(step))
		}
	case "help", "h":
		fmt.Fprintln(out, helpText)
	default:
		fmt.Fprintf(out, "Unknown command %q. %s\n", name, helpText)
	}
	return false
}

func describe(s session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase=%s connection=%s", s.Phase, s.Connection)
	if s.Current != nil {
		fmt.Fprintf(&b, " step=%d/%d gate=%s", s.CurrentIndex+1, s.StepCount, s.Gate)
	}
	if s.Speaking {
		b.WriteString(" speaking")
	}
	if s.Clarification.Loading {
		b.WriteString(" awaiting-answer")
	}
	if s.Err != nil {
		fmt.Fprintf(&b, " error=%q", s.Err.Error())
	}
	return b.String()
}

func summary(step lesson.Step) string {
	text := step.Payload.TextToSpeak
	if text == "" {
		text = step.Payload.ConversationQuestion
	}
	if r := []rune(text); len(r) > 72 {
		text = string(r[:69]) + "..."
	}
	return text
}

// statusView prints step text and phase changes as the session moves.
type statusView struct {
	mu       sync.Mutex
	out      io.Writer
	phase    session.Phase
	stepID   lesson.StepID
	gate     session.Gate
	response *lesson.Step
}

func newStatusView(out io.Writer) *statusView {
	return &statusView{out: out}
}

func (v *statusView) update(s session.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.Phase != v.phase {
		v.phase = s.Phase
		fmt.Fprintf(v.out, "-- %s\n", s.Phase)
	}
	if s.Current != nil && s.Current.ID != v.stepID {
		v.stepID = s.Current.ID
		v.gate = ""
		fmt.Fprintf(v.out, "\nStep %d/%d\n", s.CurrentIndex+1, s.StepCount)
		if t := s.Current.Payload.TextToSpeak; t != "" {
			fmt.Fprintln(v.out, t)
		}
		if q := s.Current.Payload.ConversationQuestion; q != "" {
			fmt.Fprintf(v.out, "Q: %s\n", q)
		}
	}
	if s.Gate != v.gate {
		v.gate = s.Gate
		if s.CanAdvance() {
			fmt.Fprintln(v.out, "(type `next` to continue)")
		}
	}
	if r := s.Clarification.Response; r != nil && r != v.response {
		v.response = r
		fmt.Fprintf(v.out, "Tutor: %s\n", r.Payload.TextToSpeak)
	}
}
