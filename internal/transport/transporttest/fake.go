// Package transporttest provides an in-memory Transport for session tests.
package transporttest

import (
	"sync"

	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/transport"
)

// Fake records connects and sent frames and lets tests drive the
// notification stream by hand.
type Fake struct {
	mu          sync.Mutex
	state       transport.State
	connects    []string
	disconnects int
	sent        [][]byte
	sendErr     error
	attempts    int
	hold        *sendHold
	msgs        chan transport.Message
}

type sendHold struct {
	entered chan struct{}
	release chan struct{}
}

var _ transport.Transport = (*Fake)(nil)

func New() *Fake {
	return &Fake{msgs: make(chan transport.Message, 256)}
}

func (f *Fake) Connect(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == transport.StateConnecting || f.state == transport.StateOpen {
		return
	}
	f.state = transport.StateConnecting
	f.connects = append(f.connects, url)
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = transport.StateClosed
}

func (f *Fake) Send(data []byte) error {
	f.mu.Lock()
	f.attempts++
	if f.state != transport.StateOpen {
		f.mu.Unlock()
		return transport.ErrNotOpen
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	hold := f.hold
	f.hold = nil
	f.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		<-hold.release
	}
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

// HoldNextSend blocks the next successful Send until release is called.
// entered is closed once that Send is blocked.
func (f *Fake) HoldNextSend() (entered <-chan struct{}, release func()) {
	h := &sendHold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.hold = h
	f.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

// SendAttempts counts every Send call, including failed ones.
func (f *Fake) SendAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *Fake) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) Messages() <-chan transport.Message {
	return f.msgs
}

// Open marks the socket open and emits the opened notification.
func (f *Fake) Open() {
	f.mu.Lock()
	f.state = transport.StateOpen
	f.mu.Unlock()
	f.msgs <- transport.Message{Kind: transport.KindOpened}
}

// Receive emits one inbound frame.
func (f *Fake) Receive(data []byte) {
	f.msgs <- transport.Message{Kind: transport.KindData, Data: data}
}

// Close marks the socket closed and emits a close notification with code.
func (f *Fake) Close(code int, reason string) {
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.msgs <- transport.Message{
		Kind:   transport.KindClosed,
		Code:   code,
		Reason: reason,
		Clean:  code != session.CloseAbnormal,
	}
}

// FailSends makes subsequent sends return err.
func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Fake) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}
