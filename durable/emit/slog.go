package emit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// SlogEmitter forwards events to a *slog.Logger so they share the handler,
// format and level filtering of the rest of the process's logs.
//
// Levels:
//   - Warn: failed steps and passes, zombie reruns, interrupted passes
//   - Info: other pass boundaries, step retries and progress messages
//   - Debug: everything else
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter wraps logger. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs event with its fields as attributes.
func (s *SlogEmitter) Emit(event Event) {
	level := levelFor(event.Msg)
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs, slog.String("execution_id", event.ExecutionID))
	if event.Sequence > 0 {
		attrs = append(attrs,
			slog.Int("sequence", event.Sequence),
			slog.String("label", event.Label),
		)
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}

func levelFor(msg string) slog.Level {
	switch {
	case msg == MsgStepFailed || msg == MsgPassFailed || msg == MsgStepZombie || msg == MsgPassInterrupted:
		return slog.LevelWarn
	case strings.HasPrefix(msg, "pass_"), msg == MsgProgress, msg == MsgStepRetrying:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
