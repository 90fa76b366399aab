package upload

import (
	"context"
	"sync"
)

// FakeSink records uploads for test assertions.
type FakeSink struct {
	mu       sync.Mutex
	readings []Reading

	// UploadError, if set, will be returned by Upload.
	UploadError error

	// Closed tracks if Close was called.
	Closed bool
}

func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

func (f *FakeSink) Upload(ctx context.Context, r Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadError != nil {
		return f.UploadError
	}
	f.readings = append(f.readings, r)
	return nil
}

// Readings returns a copy of the uploaded readings.
func (f *FakeSink) Readings() []Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Reading, len(f.readings))
	copy(out, f.readings)
	return out
}

func (f *FakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
