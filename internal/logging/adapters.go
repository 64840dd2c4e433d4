package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// WatermillAdapter routes Watermill's logs into zerolog.
type WatermillAdapter struct {
	logger zerolog.Logger
}

// NewWatermillAdapter wraps the global logger, tagged with component.
func NewWatermillAdapter(component string) *WatermillAdapter {
	return &WatermillAdapter{logger: Logger().With().Str("component", component).Logger()}
}

func withFields(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	withFields(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	withFields(a.logger.Info(), fields).Msg(msg)
}

// Debug is demoted to trace; Watermill is chatty at debug.
func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	withFields(a.logger.Trace(), fields).Msg(msg)
}

func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	withFields(a.logger.Trace(), fields).Msg(msg)
}

func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &WatermillAdapter{logger: ctx.Logger()}
}

// SupervisorHook logs suture events. Backoff and panics are errors,
// everything else is informational.
func SupervisorHook() suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeBackoff:
			e = Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeStopTimeout:
			e = Warn()
		default:
			e = Info()
		}
		for k, v := range ev.Map() {
			e = e.Interface(k, v)
		}
		e.Msg(ev.String())
	}
}
