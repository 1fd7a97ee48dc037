// Package monitoring provides the Sentry backed error monitor.
package monitoring

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/pubcontrol/config"
	coremon "github.com/kilianp07/pubcontrol/core/monitoring"
	"github.com/kilianp07/pubcontrol/core/publish"
)

const serviceName = "pubcontrol"

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. An empty DSN yields a no-op monitor.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       cfg.ServerName,
		BeforeSend:       beforeSend(defaultTags(cfg)),
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{}, nil
}

// defaultTags names the service and adds the configured tags.
func defaultTags(cfg config.SentryConfig) map[string]string {
	tags := map[string]string{"service": serviceName}
	for k, v := range cfg.Tags {
		tags[k] = v
	}
	return tags
}

// beforeSend drops publishes refused by a closing client and fills in
// tags the event does not set itself.
func beforeSend(tags map[string]string) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	return func(ev *sentry.Event, hint *sentry.EventHint) *sentry.Event {
		if hint != nil && errors.Is(hint.OriginalException, publish.ErrClosed) {
			return nil
		}
		if ev.Tags == nil {
			ev.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			if _, ok := ev.Tags[k]; !ok {
				ev.Tags[k] = v
			}
		}
		return ev
	}
}

type sentryMonitor struct{}

// CaptureException reports err with tags such as module, endpoint and
// channel scoped to this event.
func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if ch, ok := tags["channel"]; ok {
			scope.SetFingerprint([]string{"{{ default }}", ch})
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) Recover() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(2 * time.Second)
		panic(r)
	}
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
