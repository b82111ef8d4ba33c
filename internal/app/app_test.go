package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tjweldon/marain/internal/bus"
	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv(t *testing.T, sink chan bus.Event) bus.Event {
	t.Helper()
	select {
	case e := <-sink:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRunPublishesRegisterUserBroadcastsToSelf(t *testing.T) {
	in := make(chan command.Command, 4)
	a := New(in)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	sink := make(chan bus.Event, 4)
	alice := domain.User{ID: "u1", Name: "Alice"}
	in <- command.RegisterUser{User: alice, Sink: sink}

	ev1 := recv(t, sink)
	_, ok := ev1.(bus.UserRegistered)
	assert.True(t, ok)

	ev2 := recv(t, sink)
	joined, ok := ev2.(bus.UserJoined)
	require.True(t, ok)
	assert.Equal(t, domain.Hub, joined.Room)

	cancel()
	<-done
}

func TestRunExitsWhenGatewayClosed(t *testing.T) {
	in := make(chan command.Command)
	a := New(in)

	done := make(chan struct{})
	go func() {
		a.Run(context.Background())
		close(done)
	}()

	close(in)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after gateway channel closed")
	}
}

func TestDropUserUnsubscribesAfterPublishingSelfUserLeft(t *testing.T) {
	in := make(chan command.Command, 4)
	a := New(in)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sink := make(chan bus.Event, 4)
	alice := domain.User{ID: "u1", Name: "Alice"}
	in <- command.RegisterUser{User: alice, Sink: sink}
	recv(t, sink) // UserRegistered
	recv(t, sink) // UserJoined(Hub)

	in <- command.DropUser{User: alice}
	ev := recv(t, sink)
	_, ok := ev.(bus.UserLeft)
	assert.True(t, ok)

	// A second DropUser should now fail to unsubscribe silently (already
	// gone) rather than hang or panic.
	in <- command.DropUser{User: alice}
}
