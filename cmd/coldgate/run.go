package main

import (
	"context"
	"fmt"

	"github.com/cordum/coldgate/core/gateway"
	"github.com/cordum/coldgate/core/infra/archive"
	"github.com/cordum/coldgate/core/infra/bus"
	"github.com/cordum/coldgate/core/infra/cache"
	"github.com/cordum/coldgate/core/infra/config"
	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/infra/metrics"
	"github.com/cordum/coldgate/core/infra/queue"
	"github.com/cordum/coldgate/core/infra/redisutil"
	"github.com/cordum/coldgate/core/infra/requesters"
	"github.com/cordum/coldgate/core/retrieval"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "coldgate"

// closers collects shutdown hooks and runs them in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

func run(ctx context.Context, configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var cleanup closers
	defer func() {
		err = multierr.Append(err, cleanup.close())
	}()

	clients, err := archive.NewClients(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	topicARN, err := archive.EnsureTopic(ctx, clients.SNS, cfg.Notifications.TopicName)
	if err != nil {
		return err
	}
	glacierClient := archive.NewClient(clients.Glacier,
		archive.WithTopic(topicARN),
		archive.WithTier(cfg.Retrieval.Tier),
	)

	publisher, natsBus := dialBus(cfg)
	if natsBus != nil {
		cleanup.add(func() error { natsBus.Close(); return nil })
	}

	source, err := notificationSource(ctx, cfg, clients, topicARN, natsBus)
	if err != nil {
		return err
	}

	objects, err := cache.OpenDir(cfg.Cache.Root)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	cleanup.add(objects.Close)

	opts := retrieval.Options{
		Capacity:      cfg.Registry.Capacity,
		SubmitTimeout: cfg.Retrieval.SubmitTimeout,
		Poller: retrieval.PollerConfig{
			BatchSize:    cfg.Notifications.BatchSize,
			Backoff:      cfg.Notifications.PollBackoff,
			AckUnmatched: cfg.Notifications.AckUnmatched,
		},
		Metrics: metrics.NewProm(metricsNamespace),
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	if cfg.Redis.URL != "" {
		client, err := redisutil.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		store := requesters.New(client, 0)
		cleanup.add(store.Close)
		opts.Requesters = store
	}

	orch := retrieval.New(glacierClient, objects, source, opts)
	apiOpts := gateway.Options{Metrics: metrics.NewGatewayProm(metricsNamespace)}
	if natsBus != nil {
		apiOpts.Bus = natsBus
	}
	api := gateway.New(orch, glacierClient, apiOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return api.Serve(gctx, cfg.Server.HTTPAddr) })
	g.Go(func() error { return gateway.ServeMetrics(gctx, cfg.Server.MetricsAddr) })
	return g.Wait()
}

// dialBus connects to NATS for availability events. A failed dial only
// disables publishing; the nats transport checks for a nil bus itself.
func dialBus(cfg *config.Config) (retrieval.Publisher, *bus.NatsBus) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	b, err := bus.NewNatsBus(cfg.NATS.URL, cfg.NATS.AvailableSubject)
	if err != nil {
		logging.Error("coldgate", "nats unavailable, availability events disabled", "url", cfg.NATS.URL, "error", err)
		return nil, nil
	}
	return b, b
}

// notificationSource wires the configured job notification channel.
func notificationSource(ctx context.Context, cfg *config.Config, clients archive.Clients, topicARN string, natsBus *bus.NatsBus) (retrieval.NotificationSource, error) {
	n := cfg.Notifications
	switch n.Transport {
	case config.TransportNATS:
		if natsBus == nil {
			return nil, fmt.Errorf("nats transport requires a reachable nats server at %q", cfg.NATS.URL)
		}
		if err := natsBus.EnsureStream(n.NATSSubject, 0); err != nil {
			return nil, err
		}
		return natsBus.PullSource(n.NATSSubject, n.NATSDurable, n.WaitTime)
	default:
		q, err := queue.EnsureQueue(ctx, clients.SQS, n.QueueName)
		if err != nil {
			return nil, err
		}
		if err := queue.AllowTopic(ctx, clients.SQS, q, topicARN); err != nil {
			return nil, err
		}
		if _, err := archive.SubscribeQueue(ctx, clients.SNS, topicARN, q.ARN); err != nil {
			return nil, err
		}
		return queue.NewSource(clients.SQS, q.URL, n.WaitTime), nil
	}
}
