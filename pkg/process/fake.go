package process

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"
)

// FakeRunner is a scriptable Runner for driver tests. Responses are
// matched by argv prefix; unmatched commands succeed with empty
// output.
type FakeRunner struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     [][]string
}

type fakeResponse struct {
	prefix string
	result Result
	err    error
}

// NewFakeRunner builds an empty fake.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Respond scripts the result for commands whose argv begins with the
// given words.
func (f *FakeRunner) Respond(prefix string, result Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{prefix: prefix, result: result, err: err})
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, argv []string, env []string, timeout time.Duration) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	joined := strings.Join(argv, " ")
	for _, r := range f.responses {
		if strings.HasPrefix(joined, r.prefix) {
			return r.result, r.err
		}
	}
	return Result{}, nil
}

// Spawn implements Runner with an inert handle.
func (f *FakeRunner) Spawn(ctx context.Context, argv []string, env []string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	return &fakeHandle{pid: 12345}, nil
}

// Calls returns every argv seen, in order.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts commands whose argv begins with prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, argv := range f.calls {
		if strings.HasPrefix(strings.Join(argv, " "), prefix) {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	pid    int
	mu     sync.Mutex
	onExit func(int)
}

func (h *fakeHandle) PID() int                 { return h.pid }
func (h *fakeHandle) Kill(sig os.Signal) error { return nil }
func (h *fakeHandle) OnExit(fn func(int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = fn
}
