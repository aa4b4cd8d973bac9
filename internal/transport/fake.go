package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeTransport records every send and replays a scripted error per
// address. Script entries are consumed in order; once exhausted, sends
// succeed. Call timestamps back the rate-limit assertions.
type FakeTransport struct {
	mu     sync.Mutex
	seq    int
	script map[string][]error

	Calls []FakeCall
}

type FakeCall struct {
	To      string
	Subject string
	At      time.Time
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{script: make(map[string][]error)}
}

// FailNext scripts errs as the outcomes of the next sends to addr.
func (t *FakeTransport) FailNext(addr string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script[addr] = append(t.script[addr], errs...)
}

func (t *FakeTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewRetryable("context", err)
	}

	t.mu.Lock()
	t.Calls = append(t.Calls, FakeCall{To: msg.To, Subject: msg.Subject, At: time.Now()})
	var scripted error
	if errs := t.script[msg.To]; len(errs) > 0 {
		scripted = errs[0]
		t.script[msg.To] = errs[1:]
	}
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}
	return &Result{ProviderMessageID: fmt.Sprintf("fake-%d", seq)}, nil
}

// SentTo returns the number of sends attempted to addr.
func (t *FakeTransport) SentTo(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.Calls {
		if c.To == addr {
			n++
		}
	}
	return n
}

// CallTimes returns every call timestamp, for rate assertions.
func (t *FakeTransport) CallTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Time, len(t.Calls))
	for i, c := range t.Calls {
		out[i] = c.At
	}
	return out
}
