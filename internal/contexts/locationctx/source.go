package locationctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StaticSource reports a fixed set of last-known fixes and never produces
// fresh ones.
type StaticSource struct {
	Fixes []Fix
}

func (s StaticSource) LastKnown(context.Context) ([]Fix, error) {
	return append([]Fix(nil), s.Fixes...), nil
}

func (s StaticSource) Listen(ctx context.Context, _ chan<- Fix) error {
	<-ctx.Done()
	return ctx.Err()
}

// fileFix is the on-disk form of a fix written by an external position
// daemon.
type fileFix struct {
	Lat      float64   `yaml:"lat"`
	Lon      float64   `yaml:"lon"`
	Accuracy float64   `yaml:"accuracy"`
	Time     time.Time `yaml:"time"`
}

// FileSource reads fixes from a YAML list, one entry per provider, and polls
// it for changes while listening.
type FileSource struct {
	Path     string
	Interval time.Duration
}

func (s FileSource) read() ([]Fix, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fixes: %w", err)
	}
	var raw []fileFix
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixes %s: %w", s.Path, err)
	}
	fixes := make([]Fix, 0, len(raw))
	for _, r := range raw {
		p, err := NewPoint(r.Lat, r.Lon)
		if err != nil {
			return nil, fmt.Errorf("parse fixes %s: %w", s.Path, err)
		}
		fixes = append(fixes, Fix{Point: p, Accuracy: r.Accuracy, Time: r.Time})
	}
	return fixes, nil
}

func (s FileSource) LastKnown(context.Context) ([]Fix, error) {
	return s.read()
}

func (s FileSource) Listen(ctx context.Context, out chan<- Fix) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		fixes, err := s.read()
		if err != nil {
			return err
		}
		for _, f := range fixes {
			if !f.Time.After(latest) {
				continue
			}
			select {
			case out <- f:
				latest = f.Time
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
