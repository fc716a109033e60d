package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes notifications to the log instead of delivering them.
// Links are redacted unless showLinks is set.
type LogSender struct {
	log       zerolog.Logger
	showLinks bool
}

func NewLogSender(log zerolog.Logger, showLinks bool) *LogSender {
	return &LogSender{log: log, showLinks: showLinks}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	link := Redact(msg.Link)
	if s.showLinks {
		link = msg.Link
	}
	s.log.Info().
		Str("kind", string(msg.Kind)).
		Str("user_id", msg.UserID).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("link", link).
		Msg("notification written to log")
	return nil
}
