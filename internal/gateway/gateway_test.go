package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestForwardMergesMultipleSources(t *testing.T) {
	g := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src1 := make(chan command.Command, 1)
	src2 := make(chan command.Command, 1)

	done1 := make(chan struct{})
	done2 := make(chan struct{})
	go func() { g.Forward(ctx, src1); close(done1) }()
	go func() { g.Forward(ctx, src2); close(done2) }()

	src1 <- command.DropUser{User: domain.User{ID: "a"}}
	src2 <- command.DropUser{User: domain.User{ID: "b"}}

	seen := map[domain.UserID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case cmd := <-g.Out:
			seen[cmd.(command.DropUser).User.ID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for forwarded command")
		}
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])

	close(src1)
	close(src2)
	<-done1
	<-done2
}

func TestForwardExitsOnContextCancel(t *testing.T) {
	g := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan command.Command)

	done := make(chan struct{})
	go func() { g.Forward(ctx, src); close(done) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not exit on context cancellation")
	}
}
