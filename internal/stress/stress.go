package stress

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/framealloc"
	"github.com/hupe1980/framealloc/resource"
)

var (
	// ErrDuplicateFrame is returned when a frame is allocated while another holder has it.
	ErrDuplicateFrame = errors.New("stress: frame handed out twice")
	// ErrUnknownFrame is returned when a frame is released that was never acquired.
	ErrUnknownFrame = errors.New("stress: frame not held")
	// ErrCorruptFrame is returned when a held frame's stamp changed.
	ErrCorruptFrame = errors.New("stress: frame contents changed while held")
)

// Config controls a stress run.
type Config struct {
	// Workers is the number of concurrent goroutines. Defaults to 4.
	Workers int
	// Cycles is the number of allocate/free rounds per worker. Defaults to 1000.
	Cycles int
	// Hold is the number of frames a worker tries to hold per round. Defaults to 1.
	Hold int
	// Pacer, if set, admits 2*Hold operations per round.
	Pacer *resource.Controller
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Cycles <= 0 {
		c.Cycles = 1000
	}
	if c.Hold <= 0 {
		c.Hold = 1
	}
	return c
}

// Report summarizes a stress run.
type Report struct {
	Allocs         uint64
	Frees          uint64
	Exhausted      uint64
	MaxOutstanding uint64
	Duration       time.Duration
}

type held struct {
	frame []byte
	index uint32
	stamp uint64
}

type counters struct {
	allocs    atomic.Uint64
	frees     atomic.Uint64
	exhausted atomic.Uint64
}

// Run drives a from cfg.Workers goroutines until every worker finishes its
// cycles, one fails, or ctx is canceled. Every frame a worker holds is freed
// before the worker returns, also on failure.
func Run(ctx context.Context, a *framealloc.Allocator, cfg Config) (Report, error) {
	cfg = cfg.withDefaults()

	if a.FrameCount() > math.MaxUint32 {
		return Report{}, fmt.Errorf("stress: %d frames exceed tracker range", a.FrameCount())
	}

	tracker := NewTracker()
	var c counters

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			return work(ctx, a, cfg, tracker, &c, uint64(w))
		})
	}

	err := g.Wait()
	if err == nil && tracker.Outstanding() != 0 {
		err = fmt.Errorf("stress: frames %v still held after all workers returned", tracker.Held())
	}

	return Report{
		Allocs:         c.allocs.Load(),
		Frees:          c.frees.Load(),
		Exhausted:      c.exhausted.Load(),
		MaxOutstanding: tracker.Max(),
		Duration:       time.Since(start),
	}, err
}

func work(ctx context.Context, a *framealloc.Allocator, cfg Config, tracker *Tracker, c *counters, id uint64) (err error) {
	frames := make([]held, 0, cfg.Hold)
	stamp := id << 40

	defer func() {
		if rerr := release(a, tracker, c, frames); err == nil {
			err = rerr
		}
	}()

	for cycle := 0; cycle < cfg.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cfg.Pacer.AcquireOps(ctx, 2*cfg.Hold); err != nil {
			return err
		}

		for h := 0; h < cfg.Hold; h++ {
			frame, err := a.Alloc()
			if errors.Is(err, framealloc.ErrOutOfMemory) {
				c.exhausted.Add(1)
				break
			}
			if err != nil {
				return err
			}
			c.allocs.Add(1)

			i, ok := a.Index(frame)
			if !ok {
				return fmt.Errorf("%w: allocator returned a foreign frame", ErrUnknownFrame)
			}
			// A duplicate belongs to its other holder; do not free it here.
			if err := tracker.Acquire(uint32(i)); err != nil {
				return err
			}

			stamp++
			writeStamp(frame, stamp)
			frames = append(frames, held{frame: frame, index: uint32(i), stamp: stamp})
		}

		if err := release(a, tracker, c, frames); err != nil {
			frames = frames[:0]
			return err
		}
		frames = frames[:0]
	}
	return nil
}

// release verifies and frees every held frame. It keeps going after the first
// failure so that no frame leaks, and returns that failure.
func release(a *framealloc.Allocator, tracker *Tracker, c *counters, frames []held) error {
	var first error
	for _, h := range frames {
		if head, tail := readStamp(h.frame); (head != h.stamp || tail != h.stamp) && first == nil {
			first = fmt.Errorf("%w: frame %d stamps %#x/%#x, want %#x", ErrCorruptFrame, h.index, head, tail, h.stamp)
		}
		if err := tracker.Release(h.index); err != nil && first == nil {
			first = err
		}
		a.Free(h.frame)
		c.frees.Add(1)
	}
	return first
}

// stampOffset skips the first word, which a racing Alloc may still read as a
// free-list link.
const stampOffset = 8

// writeStamp writes s near both ends of the frame.
func writeStamp(frame []byte, s uint64) {
	binary.LittleEndian.PutUint64(frame[stampOffset:], s)
	binary.LittleEndian.PutUint64(frame[len(frame)-8:], s)
}

func readStamp(frame []byte) (head, tail uint64) {
	return binary.LittleEndian.Uint64(frame[stampOffset:]), binary.LittleEndian.Uint64(frame[len(frame)-8:])
}
