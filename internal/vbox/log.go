// Package vbox implements the core operations consumed by an external
// CLI or GUI: install, run, remove, update, list, info, shell. It also
// hosts the error taxonomy of spec.md §7 and the ambient logging wrapper.
package vbox

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Msg mirrors the suspend/resume shape a container-init launcher needs
// around its terminal: verbose logging must be buffered across the
// namespace-entry window so a line half-written on one side of pivot_root
// never interleaves with one from the other side.
type Msg struct {
	log     *logrus.Logger
	mu      sync.Mutex
	suspend bool
	buf     []func()
}

// NewMsg wraps l (or a sane default if nil) as a [Msg].
func NewMsg(l *logrus.Logger) *Msg {
	if l == nil {
		l = logrus.New()
	}
	return &Msg{log: l}
}

func (m *Msg) IsVerbose() bool { return m.log.IsLevelEnabled(logrus.DebugLevel) }

func (m *Msg) Verbose(args ...any) { m.emit(func() { m.log.Debug(args...) }) }

func (m *Msg) Verbosef(format string, args ...any) {
	m.emit(func() { m.log.Debugf(format, args...) })
}

func (m *Msg) Info(args ...any) { m.emit(func() { m.log.Info(args...) }) }

func (m *Msg) Error(args ...any) { m.emit(func() { m.log.Error(args...) }) }

// Suspend buffers subsequent log calls instead of emitting them, used
// around the pivot_root boundary where the inherited terminal is about to
// change identity.
func (m *Msg) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspend = true
}

// Resume flushes buffered log calls in order and stops buffering.
func (m *Msg) Resume() {
	m.mu.Lock()
	buf := m.buf
	m.buf = nil
	m.suspend = false
	m.mu.Unlock()
	for _, f := range buf {
		f()
	}
}

func (m *Msg) emit(f func()) {
	m.mu.Lock()
	if m.suspend {
		m.buf = append(m.buf, f)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	f()
}

// BeforeExit flushes any buffered output; called by the supervisor on
// every exit path so a suspended logger never silently drops output.
func (m *Msg) BeforeExit() { m.Resume() }
