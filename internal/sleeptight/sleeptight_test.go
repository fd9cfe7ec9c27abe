package sleeptight

import (
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestControllerPauseWake(t *testing.T) {
	c := New(nil)
	c.Sleep()
	require.True(t, c.Sleeping())

	woke := make(chan struct{})
	go func() {
		c.WaitAwake()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("WaitAwake returned while sleeping")
	case <-time.After(20 * time.Millisecond):
	}

	c.Wake()
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("WaitAwake did not return after Wake")
	}
}

func TestControllerStopEndsPause(t *testing.T) {
	c := New(nil)
	c.Sleep()
	c.RequestStop()

	assert.False(t, c.Sleeping())
	assert.True(t, c.Stopping())
	c.WaitAwake()
}

func TestControllerSignals(t *testing.T) {
	c := New(nil)
	c.Listen()
	defer c.Close()

	require.NoError(t, unix.Kill(os.Getpid(), SleepSignal))
	assert.Eventually(t, c.Sleeping, time.Second, 5*time.Millisecond)

	require.NoError(t, unix.Kill(os.Getpid(), WakeSignal))
	assert.Eventually(t, func() bool { return !c.Sleeping() }, time.Second, 5*time.Millisecond)

	require.NoError(t, unix.Kill(os.Getpid(), StopSignal))
	assert.Eventually(t, c.Stopping, time.Second, 5*time.Millisecond)
}

func TestControllerListenClose(t *testing.T) {
	for range 50 {
		c := New(nil)
		c.Listen()
		c.Sleep()
		c.Close()
		assert.False(t, c.Sleeping(), "close wakes the worker")
	}

	c := New(nil)
	c.Close()
	c.Close()
}

func TestGuardRecover(t *testing.T) {
	var notified, code int
	g := NewGuard(nil).WithHooks(
		func() error { notified++; return errors.New("no parent") },
		func(c int) { code = c },
	)

	func() {
		defer g.Recover()
		panic("kernel crashed")
	}()

	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, code)

	notified = 0
	func() {
		defer g.Recover()
	}()
	assert.Zero(t, notified, "no panic, no protocol")
}

func TestGuardWatchAbort(t *testing.T) {
	var notified, code atomic.Int32
	g := NewGuard(nil).WithHooks(
		func() error { notified.Add(1); return nil },
		func(c int) { code.Store(int32(c)) },
	)
	stop := g.WatchAbort()
	defer stop()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGABRT))
	assert.Eventually(t, func() bool { return code.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}

func TestIsCrash(t *testing.T) {
	assert.True(t, IsCrash(syscall.SIGABRT))
	assert.True(t, IsCrash(syscall.SIGSEGV))
	assert.False(t, IsCrash(syscall.SIGKILL))
	assert.False(t, IsCrash(syscall.SIGTERM))
}

func TestWatchFatal(t *testing.T) {
	var hits atomic.Int32
	stop := WatchFatal(func() { hits.Add(1) })
	defer stop()

	require.NoError(t, unix.Kill(os.Getpid(), FatalSignal))
	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestKillGroupRejectsInvalid(t *testing.T) {
	assert.Error(t, KillGroup(0))
}
