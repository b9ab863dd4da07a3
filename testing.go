package pitcher

import (
	"sync"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// MockChannel is a configurable interfaces.UnitDescriptor-backing test
// double: by default it is always ready and its Run is a no-op success,
// but every callback can be overridden, and every call is counted so
// scheduler-level tests can assert on call counts without a real V4L2
// device or filesystem.
type MockChannel struct {
	mu sync.Mutex

	RunFunc        func(buf *buffer.Buffer) error
	CheckReadyFunc func() (ready bool, isEnd bool)
	InitFunc       func() error
	StartFunc      func() error
	StopFunc       func() error
	CleanupFunc    func() error

	initCalls       int
	startCalls      int
	stopCalls       int
	cleanupCalls    int
	runCalls        int
	checkReadyCalls int
}

// NewMockChannel returns a MockChannel that is always ready and whose Run
// always succeeds, until overridden.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// Descriptor builds an interfaces.UnitDescriptor wired to this mock's
// callbacks, suitable for RegisterChn.
func (m *MockChannel) Descriptor(name string, kind interfaces.Kind) *interfaces.UnitDescriptor {
	return &interfaces.UnitDescriptor{
		Name:       name,
		Kind:       kind,
		Fd:         -1,
		Init:       func(any) error { return m.init() },
		Cleanup:    func(any) error { return m.cleanup() },
		Start:      func(any) error { return m.start() },
		Stop:       func(any) error { return m.stop() },
		CheckReady: func(any) (bool, bool) { return m.checkReady() },
		Run:        func(_ any, buf *buffer.Buffer) error { return m.run(buf) },
	}
}

func (m *MockChannel) init() error {
	m.mu.Lock()
	m.initCalls++
	m.mu.Unlock()
	if m.InitFunc != nil {
		return m.InitFunc()
	}
	return nil
}

func (m *MockChannel) cleanup() error {
	m.mu.Lock()
	m.cleanupCalls++
	m.mu.Unlock()
	if m.CleanupFunc != nil {
		return m.CleanupFunc()
	}
	return nil
}

func (m *MockChannel) start() error {
	m.mu.Lock()
	m.startCalls++
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc()
	}
	return nil
}

func (m *MockChannel) stop() error {
	m.mu.Lock()
	m.stopCalls++
	m.mu.Unlock()
	if m.StopFunc != nil {
		return m.StopFunc()
	}
	return nil
}

func (m *MockChannel) checkReady() (bool, bool) {
	m.mu.Lock()
	m.checkReadyCalls++
	m.mu.Unlock()
	if m.CheckReadyFunc != nil {
		return m.CheckReadyFunc()
	}
	return true, false
}

func (m *MockChannel) run(buf *buffer.Buffer) error {
	m.mu.Lock()
	m.runCalls++
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(buf)
	}
	return nil
}

// CallCounts returns the number of times each lifecycle callback fired.
func (m *MockChannel) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"init":        m.initCalls,
		"cleanup":     m.cleanupCalls,
		"start":       m.startCalls,
		"stop":        m.stopCalls,
		"check_ready": m.checkReadyCalls,
		"run":         m.runCalls,
	}
}

// RunCalls returns how many times Run fired.
func (m *MockChannel) RunCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalls
}
