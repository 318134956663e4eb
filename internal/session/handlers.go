package session

import (
	"github.com/raihanakbr/lesson-session-client/internal/audio"
	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/websocket"
)

var _ websocket.Handler = (*Controller)(nil)

// HandleSteps merges a batch into the sequence. The first steps activate the
// session; new steps end a wait on the step after the current one.
func (c *Controller) HandleSteps(steps []lesson.Step, bootstrap bool) {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	var added []lesson.Step
	if bootstrap {
		added = c.seq.Replace(steps)
	} else {
		added = c.seq.Append(steps...)
	}
	if c.current < 0 && c.seq.Len() > 0 {
		c.current = 0
	}
	if c.phase == PhaseLoading && c.current >= 0 {
		c.phase = PhaseActive
	}
	if c.waiting && c.current+1 < c.seq.Len() {
		c.waiting = false
		c.current++
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Debug("Steps received", "bootstrap", bootstrap, "added", len(added), "total", snap.StepCount)
	c.emit(snap)
}

// HandleAudioChunk feeds a chunk to the audio manager.
func (c *Controller) HandleAudioChunk(chunk audio.Chunk) {
	if err := c.manager.HandleChunk(chunk); err != nil {
		c.log.Debug("Audio chunk rejected", "step_id", chunk.StepID, "chunk_index", chunk.ChunkIndex, "error", err)
	}
}

// HandleAudioEnd finishes the step's stream. An end with no stream behind it
// leaves the step without audio so the gate does not wait forever.
func (c *Controller) HandleAudioEnd(end audio.End) {
	if c.manager.HandleEnd(end) {
		return
	}
	c.mu.Lock()
	if c.audio[end.StepID] != audioNone {
		c.mu.Unlock()
		return
	}
	c.audio[end.StepID] = audioEmpty
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn("Audio ended without chunks", "step_id", end.StepID, "total_chunks", end.TotalChunks)
	c.emit(snap)
}

// HandleAudioError fails the step's stream.
func (c *Controller) HandleAudioError(e audio.StreamError) {
	c.manager.HandleError(e)
}

// HandleClarificationLoading marks a clarification as pending.
func (c *Controller) HandleClarificationLoading() {
	c.update(func() { c.clar.Loading = true })
}

// HandleClarification pairs the response with the oldest unanswered question.
// It never touches the step sequence or the gate.
func (c *Controller) HandleClarification(step lesson.Step) {
	if step.ID == "" {
		step.ID = lesson.NewStepID()
	}
	step.Type = lesson.StepClarification
	c.update(func() {
		c.clar.Loading = false
		resp := step
		c.clar.Response = &resp
		for i := range c.clar.Questions {
			if c.clar.Questions[i].Response == nil {
				c.clar.Questions[i].Response = &resp
				break
			}
		}
	})
}

// HandleSessionCompleted records that the server has no more steps. A
// session waiting for steps completes at once.
func (c *Controller) HandleSessionCompleted(message string) {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	c.serverCompleted = true
	if c.waiting {
		c.waiting = false
		c.phase = PhaseCompleted
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info("Server completed the session", "message", message)
	c.emit(snap)
	if snap.Phase == PhaseCompleted {
		c.shutdown()
	}
}

// HandleConnectionState maps transport state onto the session phase.
func (c *Controller) HandleConnectionState(state websocket.ConnectionState) {
	c.update(func() {
		c.conn = state
		switch {
		case c.phase.Terminal():
		case state == websocket.Connected && c.phase == PhaseDisconnected:
			c.phase = PhaseActive
		case state == websocket.Disconnected && c.phase == PhaseActive && !c.serverCompleted:
			c.phase = PhaseDisconnected
		}
	})
}

// HandleConnectionLost fails the session once reconnects are exhausted.
func (c *Controller) HandleConnectionLost(err error) {
	c.fail(err)
	c.manager.Close()
}

func (c *Controller) onAudioStart(id lesson.StepID) {
	c.update(func() {
		if c.audio[id] != audioComplete {
			c.audio[id] = audioStreaming
		}
		c.speaking = id
	})
}

func (c *Controller) onAudioComplete(id lesson.StepID) {
	c.update(func() {
		if c.audio[id] != audioComplete {
			c.audio[id] = audioComplete
			c.audioDone = append(c.audioDone, id)
		}
		if c.speaking == id {
			c.speaking = ""
		}
	})
}

func (c *Controller) onAudioError(id lesson.StepID, err error) {
	c.update(func() {
		if c.audio[id] != audioComplete {
			c.audio[id] = audioFailed
		}
		if c.speaking == id {
			c.speaking = ""
		}
	})
}
