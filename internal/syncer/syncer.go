package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"ctfhooks/internal/cache"
	"ctfhooks/internal/discord"
	"ctfhooks/internal/metrics"
	"ctfhooks/internal/models"
)

// EventSource lists upcoming events.
type EventSource interface {
	GetUpcomingEvents(ctx context.Context, maxCount, days int) ([]models.Event, error)
}

// Sender delivers a message to one webhook.
type Sender interface {
	Execute(ctx context.Context, hookURL string, hook *discord.Hook) error
}

// Publisher mirrors announced events somewhere else, e.g. a calendar.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []models.Event) error
}

// Options controls one notification run.
type Options struct {
	MaxEntries          int
	Days                int
	IncludeWeightFields bool
	DryRun              bool

	Cache      *cache.File // nil disables duplicate suppression
	Publishers []Publisher
	Metrics    *metrics.Collector
}

// Syncer announces upcoming CTFs on Discord.
type Syncer struct {
	logger   *slog.Logger
	source   EventSource
	sender   Sender
	webhooks []string
	opts     Options
	now      func() time.Time
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, source EventSource, sender Sender, webhooks []string, opts Options) (*Syncer, error) {
	if len(webhooks) == 0 {
		return nil, errors.New("no webhooks configured")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	return &Syncer{
		logger:   logger,
		source:   source,
		sender:   sender,
		webhooks: webhooks,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// BuildMessage fetches the upcoming events and builds the message announcing
// them. It returns a nil hook when the cache shows the same events were
// already announced. Otherwise the cache is updated before returning.
func (s *Syncer) BuildMessage(ctx context.Context) (*discord.Hook, []models.Event, error) {
	var previous string
	if s.opts.Cache != nil {
		var err error
		previous, err = s.opts.Cache.Load()
		switch {
		case err == nil:
		case s.opts.DryRun && errors.Is(err, fs.ErrNotExist):
			// Dry runs do not create the cache, so a first run reads as empty.
			previous = ""
		default:
			return nil, nil, err
		}
	}

	events, err := s.source.GetUpcomingEvents(ctx, s.opts.MaxEntries, s.opts.Days)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	s.opts.Metrics.RecordEventsFetched(len(events))

	hook := discord.BuildHook(events, s.opts.Days, s.opts.IncludeWeightFields)

	if s.opts.Cache == nil {
		return hook, events, nil
	}
	ids := cache.JoinIDs(events)
	if ids == previous {
		s.logger.Debug("Event list matches the cache.", "ids", ids)
		return nil, events, nil
	}
	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would update cache", "file", s.opts.Cache.Path(), "ids", ids)
		return hook, events, nil
	}
	if err := s.opts.Cache.Store(ids); err != nil {
		return nil, nil, err
	}
	return hook, events, nil
}

// SendUpdates runs one full cycle: build the message, deliver it to every
// webhook and publish the events. Delivery is best-effort; every webhook is
// tried and all failures are returned together.
func (s *Syncer) SendUpdates(ctx context.Context) (err error) {
	start := s.now()
	defer func() {
		s.opts.Metrics.RecordRun(s.now().Sub(start), s.now(), err == nil)
	}()

	s.logger.Info("Starting notification run.", "maxEntries", s.opts.MaxEntries, "days", s.opts.Days)

	hook, events, err := s.BuildMessage(ctx)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if hook == nil {
		s.logger.Info("No new events since the last run, nothing to send.", "count", len(events))
		s.opts.Metrics.RecordSuppressed()
		return nil
	}

	if n := hook.EmbedChars(); n > discord.MaxEmbedChars {
		s.logger.Warn("Message is over Discord's embed size limit and will likely be rejected",
			"chars", n, "limit", discord.MaxEmbedChars, "events", len(events))
	}

	if s.opts.DryRun {
		payload, err := json.MarshalIndent(hook, "", "  ")
		if err != nil {
			s.logger.Error("Failed to encode message for the dry run log", "error", err)
			return nil
		}
		s.logger.Info("[DRY RUN] Would send message", "webhooks", len(s.webhooks), "payload", string(payload))
		return nil
	}

	var errs []error
	for _, hookURL := range s.webhooks {
		err := s.sender.Execute(ctx, hookURL, hook)
		s.opts.Metrics.RecordDelivery(err)
		if err != nil {
			s.logger.Error("Failed to deliver message", "webhook", discord.RedactURL(hookURL), "error", err)
			// Continue with the next webhook even if one fails.
			errs = append(errs, err)
		}
	}

	s.publish(ctx, events)

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d webhooks failed: %w", len(errs), len(s.webhooks), errors.Join(errs...))
	}
	s.logger.Info("Notification run finished.", "events", len(events), "webhooks", len(s.webhooks))
	return nil
}

// publish hands the events to every publisher. Failures are only logged.
func (s *Syncer) publish(ctx context.Context, events []models.Event) {
	for _, p := range s.opts.Publishers {
		err := p.Publish(ctx, events)
		s.opts.Metrics.RecordPublish(p.Name(), err)
		if err != nil {
			s.logger.Error("Failed to publish events", "target", p.Name(), "error", err)
			continue
		}
		s.logger.Info("Published events", "target", p.Name(), "count", len(events))
	}
}
