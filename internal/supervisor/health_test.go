package supervisor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
)

func TestCheckSkipsWhenBackendDown(t *testing.T) {
	sup := newTestSupervisor(t, Options{Command: "/bin/true"})
	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())

	snap := m.Check(context.Background())

	assert.False(t, snap.BackendRunning)
	assert.False(t, snap.Healthy)
	assert.True(t, snap.Skipped, "no network call against a backend known to be absent")
	assert.Nil(t, snap.LatencyMs)
	assert.False(t, snap.LastCheckedAt.IsZero())
}

func TestCheckHealthyBackend(t *testing.T) {
	port := stubBackend(t)
	sup := newTestSupervisor(t, Options{
		Command:       "/bin/sh",
		Args:          []string{"-c", "sleep 30"},
		FixedPort:     true,
		PreferredPort: port,
		ReadyTimeout:  2 * time.Second,
	})
	_, err := sup.Ensure(context.Background())
	require.NoError(t, err)

	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())
	snap := m.Check(context.Background())

	assert.True(t, snap.BackendRunning)
	assert.True(t, snap.Healthy)
	assert.False(t, snap.Skipped)
	require.NotNil(t, snap.LatencyMs)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Nil(t, snap.LastError)
}

func TestCheckCountsConsecutiveFailures(t *testing.T) {
	port := stubWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	sup := newTestSupervisor(t, Options{
		Command:       "/bin/sh",
		Args:          []string{"-c", "sleep 30"},
		FixedPort:     true,
		PreferredPort: port,
		ReadyTimeout:  200 * time.Millisecond,
	})
	_, err := sup.Ensure(context.Background())
	require.NoError(t, err)

	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())

	first := m.Check(context.Background())
	assert.False(t, first.Healthy)
	assert.Equal(t, 1, first.ConsecutiveFailures)
	require.NotNil(t, first.LastError)

	second := m.Check(context.Background())
	assert.Equal(t, 2, second.ConsecutiveFailures)

	assert.True(t, second.BackendRunning, "process alive, just unhealthy")
}

func TestSnapshotInvariantOnStop(t *testing.T) {
	port := stubBackend(t)
	sup := newTestSupervisor(t, Options{
		Command:       "/bin/sh",
		Args:          []string{"-c", "sleep 30"},
		FixedPort:     true,
		PreferredPort: port,
		ReadyTimeout:  2 * time.Second,
	})
	_, err := sup.Ensure(context.Background())
	require.NoError(t, err)

	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())
	healthy := m.Check(context.Background())
	require.True(t, healthy.Healthy)

	sup.Stop()
	require.Eventually(t, func() bool {
		return sup.State() == StateStopped
	}, 3*time.Second, 20*time.Millisecond)

	snap := m.Check(context.Background())
	assert.False(t, snap.BackendRunning)
	assert.False(t, snap.Healthy, "healthy never outlives backend_running")
	assert.Nil(t, snap.LatencyMs, "latency cleared on stop")
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	sup := newTestSupervisor(t, Options{Command: "/bin/true"})
	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Check(context.Background())

	select {
	case snap := <-ch:
		assert.True(t, snap.Skipped)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered to subscriber")
	}
}

func TestDuplicateTransitionSuppressed(t *testing.T) {
	sup := newTestSupervisor(t, Options{Command: "/bin/true"})
	m := NewMonitor(sup, testProber(t), time.Second, logging.NewNop())

	ch, cancel := m.Subscribe()
	defer cancel()

	// Backend already shown as down; a redundant stop flip emits nothing
	m.applyTransition(Transition{From: StateStarting, To: StateStopped, At: time.Now()})

	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunPollsPeriodically(t *testing.T) {
	sup := newTestSupervisor(t, Options{Command: "/bin/true"})
	m := NewMonitor(sup, testProber(t), 50*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ch, unsub := m.Subscribe()
	defer unsub()

	count := 0
	deadline := time.After(2 * time.Second)
	for count < 3 {
		select {
		case <-ch:
			count++
		case <-deadline:
			t.Fatalf("only %d snapshots observed", count)
		}
	}
}
