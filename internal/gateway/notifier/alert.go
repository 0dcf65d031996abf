package notifier

import (
	"context"
	"strings"
	"time"

	"perpbot/internal/logger"
	"perpbot/internal/metrics"
)

// AlertSink logs every alert at error level and forwards it to a notifier.
type AlertSink struct {
	notifier TextNotifier
	metrics  *metrics.Recorder
	nowFn    func() time.Time
}

func NewAlertSink(n TextNotifier, m *metrics.Recorder) *AlertSink {
	return &AlertSink{notifier: n, metrics: m, nowFn: time.Now}
}

func (a *AlertSink) Alert(ctx context.Context, source, title string, lines ...string) {
	logger.Errorf("[alert] %s: %s %s", source, title, strings.Join(lines, "; "))
	a.metrics.Alert(source)
	if a.notifier == nil {
		return
	}
	msg := StructuredMessage{
		Icon:      "⚠️",
		Title:     title,
		Sections:  []MessageSection{{Title: source, Lines: lines}},
		Timestamp: a.nowFn(),
	}
	if err := a.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
		logger.Warnf("[alert] deliver %s failed: %v", source, err)
	}
}

// LogNotifier is used when no chat channel is configured.
type LogNotifier struct{}

func (LogNotifier) SendText(_ context.Context, text string) error {
	logger.Warnf("[notify] %s", text)
	return nil
}
