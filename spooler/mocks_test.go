package spooler

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"
)

type mockPoster struct {
	mu      sync.Mutex
	calls   []mockPostCall
	failN   int
	failAll bool
	// block, when set, holds every call until it is closed.
	block   chan struct{}
	started chan struct{}
}

type mockPostCall struct {
	url    string
	fields url.Values
}

func (m *mockPoster) PostForm(ctx context.Context, target string, fields url.Values) error {
	m.mu.Lock()
	m.calls = append(m.calls, mockPostCall{url: target, fields: fields})
	block, started := m.block, m.started
	fail := m.failAll
	if m.failN > 0 {
		m.failN--
		fail = true
	}
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if fail {
		return errors.New("mock post failure")
	}
	return nil
}

func (m *mockPoster) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockPoster) FailAlways() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = true
}

func (m *mockPoster) Calls() []mockPostCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPostCall, len(m.calls))
	copy(out, m.calls)
	return out
}

type memoryPreferences struct {
	mu       sync.Mutex
	values   map[string]string
	failRead bool
}

func newMemoryPreferences() *memoryPreferences {
	return &memoryPreferences{values: map[string]string{}}
}

func (p *memoryPreferences) String(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRead {
		return "", errors.New("mock preferences read failure")
	}
	return p.values[key], nil
}

func (p *memoryPreferences) SetString(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}

func (p *memoryPreferences) Bool(key string) (bool, error) {
	v, err := p.String(key)
	return v == "true", err
}

func (p *memoryPreferences) SetBool(key string, value bool) error {
	v := "false"
	if value {
		v = "true"
	}
	return p.SetString(key, v)
}

func (p *memoryPreferences) raw(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key]
}

type recordingListener struct {
	BaseListener
	autoUpload bool
	found      bool
	terminate  bool
	userID     string

	mu        sync.Mutex
	newFound  int
	confirmed int
	denied    int
	sent      int
	notSent   int
}

func (l *recordingListener) ShouldAutoUploadCrashes() bool { return l.autoUpload }
func (l *recordingListener) OnCrashesFound() bool          { return l.found }
func (l *recordingListener) IgnoreDefaultHandler() bool    { return l.terminate }
func (l *recordingListener) UserID() string                { return l.userID }

func (l *recordingListener) OnNewCrashesFound() {
	l.mu.Lock()
	l.newFound++
	l.mu.Unlock()
}

func (l *recordingListener) OnConfirmedCrashesFound() {
	l.mu.Lock()
	l.confirmed++
	l.mu.Unlock()
}

func (l *recordingListener) OnUserDeniedCrashes() {
	l.mu.Lock()
	l.denied++
	l.mu.Unlock()
}

func (l *recordingListener) OnCrashesSent() {
	l.mu.Lock()
	l.sent++
	l.mu.Unlock()
}

func (l *recordingListener) OnCrashesNotSent() {
	l.mu.Lock()
	l.notSent++
	l.mu.Unlock()
}

func (l *recordingListener) counts() (newFound, confirmed, denied, sent, notSent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newFound, l.confirmed, l.denied, l.sent, l.notSent
}

// scriptedDialog answers with a fixed choice: "decline", "always", "dismiss"
// or "send".
type scriptedDialog struct {
	choice string
	shown  int
}

func (d *scriptedDialog) Show(p Prompt, cb DialogCallbacks) {
	d.shown++
	switch d.choice {
	case "decline":
		cb.OnDecline()
	case "always":
		cb.OnAlwaysSend()
	case "dismiss":
		cb.OnDismiss()
	default:
		cb.OnSend()
	}
}

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	return NewRecordStore(t.TempDir(), nil)
}

func writeTestRecord(t *testing.T, s *RecordStore, id string) {
	t.Helper()
	rec := Record{
		ID:            id,
		Trace:         "Package: com.example.app\nVersion Code: 42\n\npanic: " + id + "\n",
		AppIdentifier: "0123456789abcdef0123456789abcdef",
	}
	if err := s.Write(rec); err != nil {
		t.Fatal(err)
	}
}

func mustPending(t *testing.T, s *RecordStore) []string {
	t.Helper()
	ids, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
