package flow

import "sync"

// FakeReader is a test/dummy-mode double standing in for PulseReader.
type FakeReader struct {
	mu    sync.Mutex
	value float64
	err   error
}

// NewFakeReader constructs a FakeReader reporting a constant LPM value.
func NewFakeReader(initial float64) *FakeReader {
	return &FakeReader{value: initial}
}

func (f *FakeReader) ReadLPM() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Set changes the value the next ReadLPM call will return.
func (f *FakeReader) Set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

// SetErr forces the next ReadLPM call to fail.
func (f *FakeReader) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
