package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes runtime events to an slog.Logger.
// Useful for development when you want to see scan and transfer events
// in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Cycle and transfer events are
// logged at Debug level, state changes at Info, errors at Error.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("source", event.Source.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Task != "" {
		attrs = append(attrs, slog.String("task", event.Task))
	}
	if event.Block != "" {
		attrs = append(attrs, slog.String("block", event.Block))
	}

	level := slog.LevelDebug

	switch {
	case event.Cycle != nil:
		attrs = append(attrs,
			slog.Duration("period", event.Cycle.Period),
			slog.Duration("elapsed", event.Cycle.Elapsed),
		)
		if event.Cycle.Overrun {
			attrs = append(attrs, slog.Bool("overrun", true))
			level = slog.LevelWarn
		}
		if event.Cycle.Skipped {
			attrs = append(attrs, slog.Bool("skipped", true))
			level = slog.LevelWarn
		}
	case event.Transfer != nil:
		attrs = append(attrs,
			slog.String("direction", event.Transfer.Direction.String()),
			slog.Int("count", event.Transfer.Count),
		)
		if event.Transfer.Address != "" {
			attrs = append(attrs, slog.String("address", event.Transfer.Address))
		}
		if event.Transfer.Unit != 0 {
			attrs = append(attrs, slog.Uint64("unit", uint64(event.Transfer.Unit)))
		}
		if event.Transfer.Suppressed {
			attrs = append(attrs, slog.Bool("suppressed", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		level = slog.LevelInfo
	case event.Error != nil:
		attrs = append(attrs, slog.String("error_msg", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		level = slog.LevelError
	}

	a.logger.LogAttrs(context.Background(), level, "plc", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
