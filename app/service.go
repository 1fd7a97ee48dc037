// Package app wires configuration, transports and observability into a
// running publish service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/pubcontrol/config"
	"github.com/kilianp07/pubcontrol/core/factory"
	"github.com/kilianp07/pubcontrol/core/item"
	coremetrics "github.com/kilianp07/pubcontrol/core/metrics"
	coremon "github.com/kilianp07/pubcontrol/core/monitoring"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/pubcontrol"
	"github.com/kilianp07/pubcontrol/core/submonitor"
	infrafactory "github.com/kilianp07/pubcontrol/infra/factory"
	"github.com/kilianp07/pubcontrol/infra/logger"
	"github.com/kilianp07/pubcontrol/infra/metrics"
	"github.com/kilianp07/pubcontrol/infra/monitoring"
)

const (
	// closeTimeout bounds how long Close waits for queued publishes.
	closeTimeout = 10 * time.Second
	// dropCheckInterval is how often Run reports lost subscription events.
	dropCheckInterval = 30 * time.Second
)

// Service owns a PubControl built from the configuration.
type Service struct {
	PubControl *pubcontrol.PubControl
	log        logger.Logger
	promAddr   string
	dropCheck  time.Duration
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format == "console")
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewSink(sinkConfigs(cfg.Metrics))
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	var f pubcontrol.ClientFactory = infrafactory.New(cfg.HTTP, cfg.MQTT)
	if cfg.DirectOnly {
		f = infrafactory.Direct{HTTP: cfg.HTTP}
	}

	subLog := logger.New("subscriptions")
	pc, err := pubcontrol.New(pubcontrol.Options{
		Factory: f,
		SubCallback: func(ev submonitor.Event, channel string) {
			subLog.Infof("%s %s", ev, channel)
		},
		Logger:      logger.New("pubcontrol"),
		Sink:        sink,
		EventBuffer: cfg.EventBuffer,
	}, cfg.Publishers...)
	if err != nil {
		return nil, fmt.Errorf("publishers: %w", err)
	}
	logg.Infof("%d publish clients configured", len(pc.Clients()))
	return &Service{
		PubControl: pc,
		log:        logg,
		promAddr:   cfg.Metrics.PrometheusAddr,
		dropCheck:  dropCheckInterval,
	}, nil
}

// sinkConfigs adds a prometheus sink when the exporter is enabled and none
// was configured explicitly.
func sinkConfigs(cfg coremetrics.Config) []factory.ModuleConfig {
	sinks := cfg.Sinks
	if cfg.PrometheusAddr == "" {
		return sinks
	}
	for _, s := range sinks {
		if s.Type == "prometheus" {
			return sinks
		}
	}
	return append(append([]factory.ModuleConfig(nil), sinks...), factory.ModuleConfig{Type: "prometheus"})
}

// Run serves metrics and logs subscription edges until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.promAddr != "" {
		g.Go(func() error {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				return fmt.Errorf("prom server: %w", err)
			}
			return nil
		})
	}
	events := s.PubControl.SubscriptionEvents()
	g.Go(func() error {
		defer s.PubControl.UnsubscribeEvents(events)
		ticker := time.NewTicker(s.dropCheck)
		defer ticker.Stop()
		var dropped uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				dropped = s.reportDropped(dropped)
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				s.log.Debugw("subscription edge", map[string]any{"type": string(ev.Type), "channel": ev.Channel})
			}
		}
	})
	return g.Wait()
}

// reportDropped warns when subscription events were lost since the last
// check and returns the new total.
func (s *Service) reportDropped(last uint64) uint64 {
	n := s.PubControl.DroppedSubscriptionEvents()
	if n > last {
		s.log.Warnf("%d subscription events dropped (%d total)", n-last, n)
	}
	return n
}

// Publish sends it on channel. Asynchronous publishes wait for the
// aggregated outcome.
func (s *Service) Publish(ctx context.Context, channel string, it item.Item, blocking bool) error {
	if blocking {
		return s.PubControl.Publish(ctx, channel, it, true, nil)
	}
	results := make(chan publish.Result, 1)
	err := s.PubControl.Publish(ctx, channel, it, false, func(success bool, message string) {
		results <- publish.Result{Success: success, Message: message}
	})
	if err != nil {
		return err
	}
	select {
	case r := <-results:
		if !r.Success {
			return fmt.Errorf("publish %s: %s", channel, r.Message)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains direct clients, then releases every client.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var errs []error
	if err := s.PubControl.Finish(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finish: %w", err))
	}
	for _, c := range s.PubControl.Clients() {
		if c.Kind() == publish.KindDirect {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.PubControl.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
