package delivery

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender satisfies every sender interface by logging the message. It is
// the fallback when a channel has no provider configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Str("body", body).Msg("email not sent, no provider configured")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Str("body", body).Msg("sms not sent, no provider configured")
	return nil
}

func (s *LogSender) SendInternal(_ context.Context, recipientID, body string) error {
	s.logger.Info().Str("channel", string(ChannelInternal)).Str("recipient_id", recipientID).Str("body", body).Msg("internal message")
	return nil
}
