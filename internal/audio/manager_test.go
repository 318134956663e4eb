package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

// fakePipeline completes appends synchronously unless hold is set, in which
// case appends stay pending until release() is called.
type fakePipeline struct {
	mu        sync.Mutex
	stepID    lesson.StepID
	appended  [][]byte
	pending   []func(error)
	inFlight  int
	maxFlight int
	hold      bool
	failAt    int
	ended     bool
	released  bool
	played    bool
	playErr   error
	onEnded   func()
}

func (p *fakePipeline) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = true
	return p.playErr
}

func (p *fakePipeline) Append(buf Buffer, done func(error)) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxFlight {
		p.maxFlight = p.inFlight
	}
	p.appended = append(p.appended, buf.Data)
	n := len(p.appended)
	if p.hold {
		p.pending = append(p.pending, done)
		p.mu.Unlock()
		return
	}
	p.inFlight--
	fail := p.failAt != 0 && n == p.failAt
	p.mu.Unlock()
	if fail {
		done(errors.New("decode error"))
		return
	}
	done(nil)
}

// flush completes held appends one at a time.
func (p *fakePipeline) flush() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.hold = false
			p.mu.Unlock()
			return
		}
		done := p.pending[0]
		p.pending = p.pending[1:]
		p.inFlight--
		if len(p.pending) == 0 {
			p.hold = false
		}
		p.mu.Unlock()
		done(nil)
	}
}

func (p *fakePipeline) EndOfStream() error {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

// finishPlayback simulates the device reaching the end of the audio.
func (p *fakePipeline) finishPlayback() {
	p.mu.Lock()
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
}

type fakeDevice struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	hold      bool
	failAt    int
	playErr   error
	err       error
}

func (d *fakeDevice) NewPipeline(stepID lesson.StepID, encoding string) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	p := &fakePipeline{stepID: stepID, hold: d.hold, failAt: d.failAt, playErr: d.playErr}
	d.pipelines = append(d.pipelines, p)
	return p, nil
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipelines)
}

func (d *fakeDevice) last() *fakePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines[len(d.pipelines)-1]
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	errs     []error
	starts   int
	complete int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func(id lesson.StepID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts++
			r.events = append(r.events, "start:"+string(id))
		},
		OnComplete: func(id lesson.StepID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.complete++
			r.events = append(r.events, "complete:"+string(id))
		},
		OnError: func(id lesson.StepID, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func chunk(step string, idx int, data string) Chunk {
	return Chunk{StepID: lesson.StepID(step), ChunkIndex: idx, Payload: b64(data), Encoding: EncodingOggOpus}
}

func TestManagerOrderedStreamCompletesOnce(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	if err := m.HandleChunk(chunk("1", 1, "header")); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if err := m.HandleChunk(chunk("1", 2, "data")); err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if rec.complete != 0 {
		t.Fatalf("complete fired before end")
	}
	m.HandleEnd(End{StepID: "1", TotalChunks: 2})

	if dev.count() != 1 {
		t.Fatalf("pipelines=%d want=1", dev.count())
	}
	p := dev.last()
	if len(p.appended) != 2 || string(p.appended[0]) != "header" || string(p.appended[1]) != "data" {
		t.Fatalf("appended=%q", p.appended)
	}
	if !p.played || !p.ended {
		t.Fatalf("played=%v ended=%v", p.played, p.ended)
	}
	if rec.starts != 1 || rec.complete != 1 {
		t.Fatalf("starts=%d complete=%d want 1/1", rec.starts, rec.complete)
	}
	if got := m.Cached("1"); got != 2 {
		t.Fatalf("cached=%d want=2", got)
	}

	p.finishPlayback()
	if m.IsStreaming("1") {
		t.Fatalf("live state should be torn down after playback ends")
	}
	if !p.released {
		t.Fatalf("pipeline not released")
	}
}

func TestManagerSkippedChunkTearsDown(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	_ = m.HandleChunk(chunk("1", 1, "header"))
	err := m.HandleChunk(chunk("1", 3, "late"))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err=%v want ErrOutOfOrder", err)
	}
	p := dev.last()
	if !p.released {
		t.Fatalf("pipeline not released after ordering violation")
	}
	if m.IsStreaming("1") {
		t.Fatalf("state should be gone")
	}
	if len(rec.errs) != 1 {
		t.Fatalf("errors recorded=%d want=1", len(rec.errs))
	}

	if err := m.HandleChunk(chunk("1", 4, "more")); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("err=%v want ErrMissingHeader", err)
	}
	m.HandleEnd(End{StepID: "1", TotalChunks: 4})

	if rec.complete != 0 {
		t.Fatalf("complete fired after ordering violation")
	}
	if len(p.appended) != 1 {
		t.Fatalf("appended=%d want=1", len(p.appended))
	}
	if m.Replay("1") {
		t.Fatalf("replay should have nothing cached")
	}
}

func TestManagerRejectsInvalidIndexes(t *testing.T) {
	tests := []struct {
		name    string
		first   int
		second  int
		wantErr error
	}{
		{"first chunk not header", 2, 0, ErrMissingHeader},
		{"first chunk zero", 0, 0, ErrMissingHeader},
		{"first chunk negative", -1, 0, ErrMissingHeader},
		{"duplicate index", 1, 1, ErrOutOfOrder},
		{"zero after header", 1, 0, ErrOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			m := NewManager(dev, Callbacks{}, nil)
			err := m.HandleChunk(chunk("s", tt.first, "x"))
			if tt.first != 1 {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
				if dev.count() != 0 {
					t.Fatalf("pipeline created for rejected stream")
				}
				return
			}
			if err := m.HandleChunk(chunk("s", tt.second, "y")); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManagerSerializesAppends(t *testing.T) {
	dev := &fakeDevice{hold: true}
	m := NewManager(dev, Callbacks{}, nil)

	for i := 1; i <= 5; i++ {
		if err := m.HandleChunk(chunk("1", i, string(rune('a'+i-1)))); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	p := dev.last()
	p.mu.Lock()
	held := len(p.appended)
	p.mu.Unlock()
	if held != 1 {
		t.Fatalf("appends in flight=%d want=1", held)
	}

	m.HandleEnd(End{StepID: "1", TotalChunks: 5})
	if p.ended {
		t.Fatalf("end of stream issued before queue drained")
	}

	p.flush()
	if p.maxFlight != 1 {
		t.Fatalf("max in flight=%d want=1", p.maxFlight)
	}
	got := bytes.Join(p.appended, nil)
	if string(got) != "abcde" {
		t.Fatalf("append order=%q want=abcde", got)
	}
	if !p.ended {
		t.Fatalf("end of stream not issued after drain")
	}
}

func TestManagerAudioErrorSuppressesComplete(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	_ = m.HandleChunk(chunk("1", 1, "header"))
	m.HandleError(StreamError{StepID: "1", Message: "tts failed"})
	m.HandleEnd(End{StepID: "1", TotalChunks: 1})

	if rec.complete != 0 {
		t.Fatalf("complete fired after audio error")
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrServerAudio) {
		t.Fatalf("errs=%v", rec.errs)
	}
	if !dev.last().released {
		t.Fatalf("pipeline not released")
	}
}

func TestManagerAppendFailureTearsDown(t *testing.T) {
	dev := &fakeDevice{failAt: 2}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	_ = m.HandleChunk(chunk("1", 1, "header"))
	_ = m.HandleChunk(chunk("1", 2, "bad"))

	if m.IsStreaming("1") {
		t.Fatalf("state should be torn down")
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrAppendFailed) {
		t.Fatalf("errs=%v", rec.errs)
	}
}

func TestManagerMalformedPayload(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, Callbacks{}, nil)

	err := m.HandleChunk(Chunk{StepID: "1", ChunkIndex: 1, Payload: "%%%", Encoding: EncodingOggOpus})
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if dev.count() != 0 {
		t.Fatalf("pipeline created for undecodable header")
	}
}

func TestManagerReplay(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	if m.Replay("1") {
		t.Fatalf("replay before caching should return false")
	}
	if dev.count() != 0 || rec.starts != 0 || len(rec.errs) != 0 {
		t.Fatalf("replay without cache had side effects")
	}

	_ = m.HandleChunk(chunk("1", 1, "h"))
	_ = m.HandleChunk(chunk("1", 2, "d1"))
	_ = m.HandleChunk(chunk("1", 3, "d2"))
	m.HandleEnd(End{StepID: "1", TotalChunks: 3})
	first := dev.last()
	first.finishPlayback()

	if !m.Replay("1") {
		t.Fatalf("replay should succeed")
	}
	if dev.count() != 2 {
		t.Fatalf("pipelines=%d want=2", dev.count())
	}
	replay := dev.last()
	if replay == first {
		t.Fatalf("replay reused the torn-down pipeline")
	}
	if !bytes.Equal(bytes.Join(replay.appended, nil), bytes.Join(first.appended, nil)) {
		t.Fatalf("replay bytes=%q want=%q", replay.appended, first.appended)
	}
	if !replay.ended {
		t.Fatalf("replay stream not ended")
	}
	want := []string{"start:1", "complete:1", "start:1", "complete:1"}
	if len(rec.events) != len(want) {
		t.Fatalf("events=%v want=%v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events=%v want=%v", rec.events, want)
		}
	}

	if !m.Replay("1") {
		t.Fatalf("second replay should succeed")
	}
	if !replay.released {
		t.Fatalf("previous replay pipeline should be released")
	}
	if !bytes.Equal(bytes.Join(dev.last().appended, nil), []byte("hd1d2")) {
		t.Fatalf("second replay bytes=%q", dev.last().appended)
	}
}

func TestManagerReplayCompletesAfterHeldAppendsDrain(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	_ = m.HandleChunk(chunk("1", 1, "h"))
	_ = m.HandleChunk(chunk("1", 2, "d"))
	m.HandleEnd(End{StepID: "1", TotalChunks: 2})

	dev.mu.Lock()
	dev.hold = true
	dev.mu.Unlock()

	m.Replay("1")
	if rec.complete != 1 {
		t.Fatalf("replay completed before drain: complete=%d", rec.complete)
	}
	dev.last().flush()
	if rec.complete != 2 {
		t.Fatalf("complete=%d want=2", rec.complete)
	}
}

func TestManagerPlayRejectionIsNotFatal(t *testing.T) {
	dev := &fakeDevice{playErr: errors.New("autoplay blocked")}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	if err := m.HandleChunk(chunk("1", 1, "h")); err != nil {
		t.Fatalf("header chunk: %v", err)
	}
	if err := m.HandleChunk(chunk("1", 2, "d")); err != nil {
		t.Fatalf("chunk after play rejection: %v", err)
	}
	if rec.starts != 1 {
		t.Fatalf("starts=%d want=1", rec.starts)
	}
}

func TestManagerIndependentSteps(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	_ = m.HandleChunk(chunk("1", 1, "a"))
	_ = m.HandleChunk(chunk("2", 1, "b"))
	_ = m.HandleChunk(chunk("1", 2, "c"))
	m.HandleEnd(End{StepID: "2", TotalChunks: 1})

	if dev.count() != 2 {
		t.Fatalf("pipelines=%d want=2", dev.count())
	}
	if rec.complete != 1 || !m.IsStreaming("1") {
		t.Fatalf("complete=%d streaming(1)=%v", rec.complete, m.IsStreaming("1"))
	}
}

func TestManagerCloseReleasesEverything(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, Callbacks{}, nil)

	_ = m.HandleChunk(chunk("1", 1, "a"))
	_ = m.HandleChunk(chunk("2", 1, "b"))
	m.Close()

	for _, p := range dev.pipelines {
		if !p.released {
			t.Fatalf("pipeline for %s not released", p.stepID)
		}
	}
	if err := m.HandleChunk(chunk("3", 1, "c")); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("err=%v want ErrManagerClosed", err)
	}
}

func TestEndWithoutStreamReportsNothingToEnd(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	m := NewManager(dev, rec.callbacks(), nil)

	if m.HandleEnd(End{StepID: "1", TotalChunks: 0}) {
		t.Fatalf("HandleEnd on a step without chunks reported a live stream")
	}
	if rec.complete != 0 || dev.count() != 0 {
		t.Fatalf("complete=%d pipelines=%d want none", rec.complete, dev.count())
	}

	if err := m.HandleChunk(chunk("1", 1, "header")); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if !m.HandleEnd(End{StepID: "1", TotalChunks: 1}) {
		t.Fatalf("HandleEnd on a live stream reported nothing to end")
	}
	if m.HandleEnd(End{StepID: "1", TotalChunks: 1}) {
		t.Fatalf("second HandleEnd ended the stream again")
	}
	if rec.complete != 1 {
		t.Fatalf("complete=%d want=1", rec.complete)
	}
}

func TestFailureLogUsesStepContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	m := NewManager(&fakeDevice{}, Callbacks{}, log)

	if err := m.HandleChunk(chunk("4", 2, "data")); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("err=%v want ErrMissingHeader", err)
	}
	entries := logs.FilterMessage("Step audio failed").All()
	if len(entries) != 1 {
		t.Fatalf("entries=%v", logs.All())
	}
	fields := entries[0].ContextMap()
	if fmt.Sprint(fields["step_id"]) != "4" || fields["component"] != "StepAudioStreamManager" {
		t.Fatalf("fields=%v", fields)
	}
}
