package valve

import "sync"

// FakeLine is a test double standing in for a gpiocdev.Line.
type FakeLine struct {
	mu      sync.Mutex
	value   int
	closed  bool
	failN   int
	failErr error
	writes  int
}

// NewFakeLine constructs a FakeLine starting at the given value.
func NewFakeLine(initial int) *FakeLine {
	return &FakeLine{value: initial}
}

// FailNext makes the next n calls to SetValue return err instead of
// succeeding, modeling a flaky relay write for retry/escalation tests.
func (f *FakeLine) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN = n
	f.failErr = err
}

// Writes reports how many times SetValue has been called, successful or
// not.
func (f *FakeLine) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FakeLine) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failN > 0 {
		f.failN--
		return f.failErr
	}
	f.value = v
	return nil
}

func (f *FakeLine) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, nil
}

func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *FakeLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Set directly forces the line's value, simulating external/echo state
// independent of what the driver last wrote (e.g. a stuck relay).
func (f *FakeLine) Set(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}
