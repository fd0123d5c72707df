package backend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/queuecx/dashboard/internal/remote"
)

func TestSubscribeToUserActivity_Delivers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newFakeRemote()
	f := newTestFacade(t, r)
	defer f.Close()

	var got atomic.Int32
	unsubscribe, err := f.SubscribeToUserActivity(context.Background(), "u1", func(ev remote.ChangeEvent) {
		assert.Equal(t, remote.ChangeInsert, ev.Type)
		got.Add(1)
	})
	require.NoError(t, err)

	ch := r.channel(0)
	require.NotNil(t, ch)
	assert.Equal(t, "user-activity-u1", ch.name)
	assert.Equal(t, remote.Filter{Schema: "public", Table: "user_activity", Column: "user_id", Value: "u1"}, ch.filter)

	ch.onStatus(remote.StatusSubscribed, nil)
	ch.onChange(remote.ChangeEvent{Type: remote.ChangeInsert})
	assert.Equal(t, int32(1), got.Load())

	unsubscribe()
	assert.True(t, ch.isClosed())

	ch.onChange(remote.ChangeEvent{Type: remote.ChangeInsert})
	assert.Equal(t, int32(1), got.Load(), "no delivery after unsubscribe")
}

func TestSubscribeToUserActivity_ReconnectsOnChannelError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newFakeRemote()
	f := newTestFacade(t, r)
	defer f.Close()

	unsubscribe, err := f.SubscribeToUserActivity(context.Background(), "u1", func(remote.ChangeEvent) {})
	require.NoError(t, err)
	defer unsubscribe()

	first := r.channel(0)
	first.onStatus(remote.StatusChannelError, errTransient)
	// a second report of the same failure must not schedule another reconnect
	first.onStatus(remote.StatusChannelError, errTransient)

	require.Eventually(t, func() bool { return r.count("Subscribe") == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 2, r.count("Subscribe"))
	assert.Equal(t, 1, r.count("Unsubscribe"))
	assert.True(t, first.isClosed())

	second := r.channel(1)
	second.onStatus(remote.StatusChannelError, errTransient)
	require.Eventually(t, func() bool { return r.count("Subscribe") == 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, second.isClosed())
}

func TestSubscribeToUserActivity_StaleChannelErrorsAreIgnored(t *testing.T) {
	r := newFakeRemote()
	f := newTestFacade(t, r)

	unsubscribe, err := f.SubscribeToUserActivity(context.Background(), "u1", func(remote.ChangeEvent) {})
	require.NoError(t, err)
	defer unsubscribe()

	first := r.channel(0)
	first.onStatus(remote.StatusChannelError, errTransient)
	require.Eventually(t, func() bool { return r.count("Subscribe") == 2 }, time.Second, 5*time.Millisecond)

	first.onStatus(remote.StatusChannelError, errTransient)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, r.count("Subscribe"))
}

func TestSubscribeToUserActivity_UnsubscribeCancelsPendingReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newFakeRemote()
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 50 * time.Millisecond
	f := New(Configured{Remote: r}, WithConfig(cfg))
	defer f.Close()

	unsubscribe, err := f.SubscribeToUserActivity(context.Background(), "u1", func(remote.ChangeEvent) {})
	require.NoError(t, err)

	r.channel(0).onStatus(remote.StatusChannelError, errTransient)
	unsubscribe()
	unsubscribe()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.count("Subscribe"))
	assert.Equal(t, 1, r.count("Unsubscribe"))
}

func TestSubscribeToUserActivity_UnsubscribeWaitsForCallback(t *testing.T) {
	r := newFakeRemote()
	f := newTestFacade(t, r)

	inCallback := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	unsubscribe, err := f.SubscribeToUserActivity(context.Background(), "u1", func(remote.ChangeEvent) {
		close(inCallback)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)

	go r.channel(0).onChange(remote.ChangeEvent{Type: remote.ChangeUpdate})
	<-inCallback

	done := make(chan struct{})
	go func() {
		unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while a callback was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-done
	assert.True(t, finished.Load())
}

func TestSubscribeToUserActivity_UnsubscribeFromCallback(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newFakeRemote()
	f := newTestFacade(t, r)
	defer f.Close()

	var (
		got         atomic.Int32
		unsubscribe func()
		err         error
	)
	unsubscribe, err = f.SubscribeToUserActivity(context.Background(), "u1", func(remote.ChangeEvent) {
		got.Add(1)
		unsubscribe()
	})
	require.NoError(t, err)
	ch := r.channel(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.onChange(remote.ChangeEvent{Type: remote.ChangeInsert})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe from inside the callback did not return")
	}
	require.Eventually(t, ch.isClosed, time.Second, 5*time.Millisecond)

	ch.onChange(remote.ChangeEvent{Type: remote.ChangeInsert})
	unsubscribe()
	assert.Equal(t, int32(1), got.Load(), "no delivery after unsubscribe")
	assert.Equal(t, 1, r.count("Unsubscribe"))
}

func TestGoroutineID(t *testing.T) {
	here := goroutineID()
	assert.Equal(t, here, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, here, <-other)
}

func TestSubscribeToUserActivity_RequiresCallback(t *testing.T) {
	f := newTestFacade(t, newFakeRemote())
	_, err := f.SubscribeToUserActivity(context.Background(), "u1", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
