package testutil

import "sync"

// MockTracker records progress callbacks for assertions.
type MockTracker struct {
	mu        sync.Mutex
	updates   []int64
	total     int64
	completed bool
	err       error
}

// NewMockTracker returns an empty tracker.
func NewMockTracker() *MockTracker {
	return &MockTracker{}
}

// Update records one progress callback.
func (t *MockTracker) Update(bytesTransferred, totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, bytesTransferred)
	t.total = totalBytes
}

// Complete records transfer completion.
func (t *MockTracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
}

// Error records transfer failure.
func (t *MockTracker) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Updates returns a copy of the recorded byte counts.
func (t *MockTracker) Updates() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.updates...)
}

// Total returns the last reported total.
func (t *MockTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Completed reports whether Complete was called.
func (t *MockTracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Err returns the recorded failure, if any.
func (t *MockTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
