// Package app implements the single-owner loop described in spec §4.5: one
// goroutine that exclusively owns appstate.State and bus.EventBus, draining
// Commands from AppGateway and publishing the Broadcasts each produces.
// Grounded on the teacher's Hub — which also ran as one long-lived consumer
// serializing access to its room registry — but reworked so the map access
// never needs a mutex at all: nothing outside this goroutine ever reaches
// State or EventBus.
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/tjweldon/marain/internal/appstate"
	"github.com/tjweldon/marain/internal/bus"
	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/logging"
	"github.com/tjweldon/marain/internal/metrics"
)

// App owns the state and event bus for the process lifetime.
type App struct {
	state   *appstate.State
	events  *bus.EventBus
	handler *command.Handler
	in      <-chan command.Command
}

// New builds an App reading Commands from in. in is expected to be the
// downstream end of an AppGateway fan-in.
func New(in <-chan command.Command) *App {
	state := appstate.New()
	return &App{
		state:   state,
		events:  bus.New(),
		handler: command.New(state),
		in:      in,
	}
}

// Run drains commands until in is closed or ctx is cancelled, publishing
// Broadcasts in the order CommandHandler produced them. Per spec §4.5 this
// never returns on a handler error; it returns only on shutdown.
func (a *App) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "app: shutting down on context cancellation")
			return
		case cmd, ok := <-a.in:
			if !ok {
				logging.Info(ctx, "app: gateway channel closed, exiting")
				return
			}
			a.step(ctx, cmd)
		}
	}
}

// step applies one Command and publishes its Broadcasts, implementing the
// RegisterUser-subscribe / DropUser-deferred-unsubscribe ordering from spec
// §4.5 exactly: the deferred unsubscribe happens after Broadcasts publish so
// a departing user's own UserLeft still reaches them.
func (a *App) step(ctx context.Context, cmd command.Command) {
	var deferredUnsubscribe *domain.UserID

	switch c := cmd.(type) {
	case command.RegisterUser:
		metrics.CommandsProcessed.WithLabelValues("register_user").Inc()
		if err := a.events.Subscribe(c.User.ID, c.Sink); err != nil {
			logging.Warn(ctx, "app: dropping RegisterUser", zap.Error(err))
			return
		}
	case command.MoveUser:
		metrics.CommandsProcessed.WithLabelValues("move_user").Inc()
		logging.Debug(logging.WithRoom(ctx, string(c.Target)), "app: moving user",
			zap.String("user", string(c.User.ID)))
	case command.RecordMessage:
		metrics.CommandsProcessed.WithLabelValues("record_message").Inc()
	case command.DropUser:
		metrics.CommandsProcessed.WithLabelValues("drop_user").Inc()
		id := c.User.ID
		deferredUnsubscribe = &id
	}

	for _, b := range a.handler.Handle(ctx, cmd) {
		a.events.Publish(b.Event, b.Recipients)
	}

	if deferredUnsubscribe != nil {
		if err := a.events.Unsubscribe(*deferredUnsubscribe); err != nil {
			logging.Warn(ctx, "app: unsubscribe after DropUser", zap.Error(err))
		}
	}
}
