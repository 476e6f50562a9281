package email

import (
	"context"

	"go.uber.org/zap"
)

// LoggingProvider records outgoing mail instead of delivering it. Used when
// no SMTP host is configured.
type LoggingProvider struct {
	log *zap.Logger
}

func NewLogging(log *zap.Logger) *LoggingProvider {
	return &LoggingProvider{log: log.Named("email.logging")}
}

func (p *LoggingProvider) Send(ctx context.Context, msg Message) error {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	p.log.Info("email.logged",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", names),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
