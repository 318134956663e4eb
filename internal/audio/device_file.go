package audio

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

var errPipelineReleased = errors.New("pipeline released")

// FileDevice "plays" narration by streaming it to files under Dir, one file
// per pipeline (one file per unit for standalone WAV buffers).
type FileDevice struct {
	Dir string

	mu    sync.Mutex
	opens map[lesson.StepID]int
	log   *logger.Logger
}

// NewFileDevice creates dir if needed and returns a device writing into it.
func NewFileDevice(dir string, log *logger.Logger) (*FileDevice, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileDevice{
		Dir:   dir,
		opens: make(map[lesson.StepID]int),
		log:   logger.OrNop(log).With("component", "FileDevice"),
	}, nil
}

// NewPipeline opens a fresh file for one playback of stepID.
func (d *FileDevice) NewPipeline(stepID lesson.StepID, encoding string) (Pipeline, error) {
	d.mu.Lock()
	n := d.opens[stepID]
	d.opens[stepID] = n + 1
	d.mu.Unlock()

	base := "step-" + string(stepID)
	if n > 0 {
		base = fmt.Sprintf("%s-replay-%d", base, n)
	}
	p := &filePipeline{
		dir:  d.Dir,
		base: base,
		ext:  Extension(encoding),
		ops:  make(chan fileOp, 16),
		done: make(chan struct{}),
		log:  d.log.With("step_id", stepID),
	}
	go p.run()
	return p, nil
}

type fileOp struct {
	buf  *Buffer
	done func(error)
	eos  bool
}

type filePipeline struct {
	dir  string
	base string
	ext  string

	ops  chan fileOp
	done chan struct{}

	mu       sync.Mutex
	onEnded  func()
	released bool
	playing  bool

	file  *os.File
	w     *bufio.Writer
	units int
	log   *logger.Logger
}

func (p *filePipeline) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return errPipelineReleased
	}
	p.playing = true
	return nil
}

func (p *filePipeline) Append(buf Buffer, done func(error)) {
	if !p.enqueue(fileOp{buf: &buf, done: done}) {
		done(errPipelineReleased)
	}
}

func (p *filePipeline) EndOfStream() error {
	if !p.enqueue(fileOp{eos: true}) {
		return errPipelineReleased
	}
	return nil
}

func (p *filePipeline) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *filePipeline) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.playing = false
	p.mu.Unlock()
	close(p.done)
}

func (p *filePipeline) enqueue(op fileOp) bool {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return false
	}
	select {
	case p.ops <- op:
		return true
	case <-p.done:
		return false
	}
}

func (p *filePipeline) run() {
	defer p.closeFile()
	for {
		select {
		case <-p.done:
			return
		case op := <-p.ops:
			if op.eos {
				if err := p.closeFile(); err != nil {
					p.log.Warn("Failed to flush audio file", "error", err)
				}
				p.mu.Lock()
				fn := p.onEnded
				p.mu.Unlock()
				if fn != nil {
					fn()
				}
				return
			}
			op.done(p.write(*op.buf))
		}
	}
}

func (p *filePipeline) write(buf Buffer) error {
	if buf.Standalone {
		p.units++
		name := filepath.Join(p.dir, fmt.Sprintf("%s-%03d.wav", p.base, p.units))
		return os.WriteFile(name, buf.Data, 0o644)
	}
	if p.file == nil {
		f, err := os.Create(filepath.Join(p.dir, p.base+"."+p.ext))
		if err != nil {
			return err
		}
		p.file = f
		p.w = bufio.NewWriter(f)
	}
	_, err := p.w.Write(buf.Data)
	return err
}

func (p *filePipeline) closeFile() error {
	if p.file == nil {
		return nil
	}
	err := p.w.Flush()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.file = nil
	p.w = nil
	return err
}
