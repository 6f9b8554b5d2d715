package framealloc

import (
	"fmt"

	"github.com/hupe1980/framealloc/config"
)

// Config describes one allocator.
type Config struct {
	// FrameBytes is the requested frame size before cache-line rounding.
	FrameBytes int
	// FrameCount is the number of frames in the region.
	FrameCount int
}

// Validate checks that both sizes are positive.
func (c Config) Validate() error {
	if c.FrameBytes <= 0 {
		return fmt.Errorf("%w: frame_bytes must be positive, got %d", ErrInvalidGeometry, c.FrameBytes)
	}
	if c.FrameCount <= 0 {
		return fmt.Errorf("%w: frame_count must be positive, got %d", ErrInvalidGeometry, c.FrameCount)
	}
	return nil
}

// ConfigsFromTree reads allocator settings from section of t (the whole tree
// if section is empty). frame_bytes may be a single integer or an array; one
// Config is returned per entry, all sharing frame_count.
//
//	allocator:
//	  frame_bytes: [64, 512]
//	  frame_count: 4096
func ConfigsFromTree(t *config.Tree, section string) ([]Config, error) {
	if section != "" {
		sub, err := t.Sub(section)
		if err != nil {
			return nil, err
		}
		t = sub
	}

	sizes, err := t.Ints("frame_bytes")
	if err != nil {
		return nil, err
	}
	count, err := t.Int("frame_count")
	if err != nil {
		return nil, err
	}

	cfgs := make([]Config, 0, len(sizes))
	for _, size := range sizes {
		cfg := Config{FrameBytes: size, FrameCount: count}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// NewFromConfig validates cfg and creates an allocator from it. Unlike New,
// invalid sizes are reported as errors since they come from external input.
func NewFromConfig(cfg Config, opts ...Option) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg.FrameBytes, cfg.FrameCount, opts...)
}
