package audio

import "github.com/raihanakbr/lesson-session-client/internal/lesson"

// Pipeline is a progressive playback handle for one step's audio stream.
type Pipeline interface {
	// Play starts playback. Failure is not fatal; playback may begin later.
	Play() error
	// Append hands one buffer to the device. done is called once the buffer
	// has been accepted; callers never have two appends outstanding.
	Append(buf Buffer, done func(error))
	// EndOfStream marks that no more buffers follow.
	EndOfStream() error
	// OnEnded registers fn to run once the device finished playing.
	OnEnded(fn func())
	// Release pauses playback and frees the handle. Safe to call twice.
	Release()
}

// Device builds pipelines. Every call returns a fresh pipeline.
type Device interface {
	NewPipeline(stepID lesson.StepID, encoding string) (Pipeline, error)
}

// Chunk is one AUDIO_CHUNK frame. Payload is still base64 encoded.
type Chunk struct {
	StepID     lesson.StepID
	ChunkIndex int
	Payload    string
	Encoding   string
}

// End is one AUDIO_END frame.
type End struct {
	StepID      lesson.StepID
	TotalChunks int
}

// StreamError is one AUDIO_ERROR frame.
type StreamError struct {
	StepID  lesson.StepID
	Message string
}
