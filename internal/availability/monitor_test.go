package availability

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTokens struct {
	tok          string
	tokenErr     error
	refreshed    string
	refreshErr   error
	tokenCalls   int
	refreshCalls int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.tokenCalls++
	return f.tok, f.tokenErr
}

func (f *fakeTokens) ForceRefresh(context.Context) (string, error) {
	f.refreshCalls++
	return f.refreshed, f.refreshErr
}

type fakeWaker struct {
	fails int // leading wake calls that fail
	calls int
}

func (f *fakeWaker) Wake(context.Context) error {
	f.calls++
	if f.calls <= f.fails {
		return errors.New("gateway asleep")
	}
	return nil
}

func TestEnsureCachesVerdict(t *testing.T) {
	tokens := &fakeTokens{tok: "a.b.c"}
	waker := &fakeWaker{}
	m := NewMonitor(tokens, waker, time.Minute)

	ok, err := m.Ensure(context.Background(), false)
	if err != nil || !ok {
		t.Fatalf("first ensure: ok=%v err=%v", ok, err)
	}
	ok, err = m.Ensure(context.Background(), false)
	if err != nil || !ok {
		t.Fatalf("second ensure: ok=%v err=%v", ok, err)
	}

	if waker.calls != 1 {
		t.Errorf("wake calls = %d, want 1 (second verdict served from cache)", waker.calls)
	}
}

func TestEnsureForceRefreshBypassesCache(t *testing.T) {
	tokens := &fakeTokens{tok: "a.b.c"}
	waker := &fakeWaker{}
	m := NewMonitor(tokens, waker, time.Minute)

	m.Ensure(context.Background(), false)
	m.Ensure(context.Background(), true)

	if waker.calls != 2 {
		t.Errorf("wake calls = %d, want 2", waker.calls)
	}
}

func TestEnsureExpiredVerdictRechecked(t *testing.T) {
	tokens := &fakeTokens{tok: "a.b.c"}
	waker := &fakeWaker{}
	m := NewMonitor(tokens, waker, 10*time.Millisecond)

	m.Ensure(context.Background(), false)
	time.Sleep(20 * time.Millisecond)
	m.Ensure(context.Background(), false)

	if waker.calls != 2 {
		t.Errorf("wake calls = %d, want 2 after TTL expiry", waker.calls)
	}
}

func TestWakeRetriedOnceAfterTokenRefresh(t *testing.T) {
	tokens := &fakeTokens{tok: "a.b.c", refreshed: "d.e.f"}
	waker := &fakeWaker{fails: 1}
	m := NewMonitor(tokens, waker, time.Minute)

	ok, err := m.Ensure(context.Background(), false)
	if err != nil || !ok {
		t.Fatalf("ensure: ok=%v err=%v", ok, err)
	}
	if waker.calls != 2 {
		t.Errorf("wake calls = %d, want 2 (one retry)", waker.calls)
	}
	if tokens.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", tokens.refreshCalls)
	}
}

func TestWakeFailsAfterSingleRetry(t *testing.T) {
	tokens := &fakeTokens{tok: "a.b.c", refreshed: "d.e.f"}
	waker := &fakeWaker{fails: 10}
	m := NewMonitor(tokens, waker, time.Minute)

	ok, err := m.Ensure(context.Background(), false)
	if ok || err == nil {
		t.Fatalf("ensure: ok=%v err=%v, want failure", ok, err)
	}
	if waker.calls != 2 {
		t.Errorf("wake calls = %d, want exactly 2", waker.calls)
	}
}

func TestNoSessionIsUnavailableNotError(t *testing.T) {
	tokens := &fakeTokens{tok: "", refreshed: ""}
	waker := &fakeWaker{}
	m := NewMonitor(tokens, waker, time.Minute)

	ok, err := m.Ensure(context.Background(), false)
	if ok {
		t.Error("expected unavailable without a session")
	}
	if err != nil {
		t.Errorf("no-session must not be an error, got %v", err)
	}
	if waker.calls != 0 {
		t.Errorf("wake must not be called without a token, got %d calls", waker.calls)
	}
}

func TestEmptyTokenTriggersForceRefresh(t *testing.T) {
	tokens := &fakeTokens{tok: "", refreshed: "d.e.f"}
	waker := &fakeWaker{}
	m := NewMonitor(tokens, waker, time.Minute)

	ok, err := m.Ensure(context.Background(), false)
	if err != nil || !ok {
		t.Fatalf("ensure: ok=%v err=%v", ok, err)
	}
	if tokens.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", tokens.refreshCalls)
	}
}
