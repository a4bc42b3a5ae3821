package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func downServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

func TestCheckIgnoresHTTPStatus(t *testing.T) {
	srv := upServer(t, http.StatusInternalServerError)
	p := NewProbe(srv.URL, srv.URL, time.Second, time.Second)
	assert.True(t, p.Check(context.Background(), srv.URL, time.Second))
}

func TestCheckUnreachableTarget(t *testing.T) {
	p := NewProbe("", "", time.Second, time.Second)
	assert.False(t, p.Check(context.Background(), downServer(t), 200*time.Millisecond))
	assert.False(t, p.Check(context.Background(), "", time.Second))
}

func TestCheckTimesOut(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
	}))
	t.Cleanup(slow.Close)

	p := NewProbe(slow.URL, slow.URL, time.Second, time.Second)
	assert.False(t, p.Check(context.Background(), slow.URL, 50*time.Millisecond))
}

func TestCurrentMode(t *testing.T) {
	up := upServer(t, http.StatusNoContent)
	down := downServer(t)
	ctx := context.Background()

	assert.Equal(t, ModeOnline, NewProbe(up.URL, up.URL, time.Second, time.Second).CurrentMode(ctx))
	assert.Equal(t, ModeDegraded, NewProbe(down, up.URL, time.Second, time.Second).CurrentMode(ctx))
	// A dead internet probe is offline regardless of the provider.
	assert.Equal(t, ModeOffline, NewProbe(up.URL, down, time.Second, time.Second).CurrentMode(ctx))
}

func TestWatchSurvivesPanickingCallback(t *testing.T) {
	up := upServer(t, http.StatusNoContent)
	p := NewProbe(up.URL, up.URL, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Watch(ctx, 10*time.Millisecond, func(Mode) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
		})
	}()

	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop on cancellation")
	}
}
