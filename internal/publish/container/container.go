// Package container drives the create, poll, publish lifecycle of graph-style media containers.
package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
)

// Kind is what a container will become once published.
type Kind string

const (
	KindText          Kind = "text"
	KindImage         Kind = "image"
	KindVideo         Kind = "video"
	KindCarouselChild Kind = "carousel-child"
	KindCarousel      Kind = "carousel"
)

// Status is the provider-side processing state of a container.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// Container is a staged, not yet published post or post child. It only lives for one call.
type Container struct {
	ID     string
	Kind   Kind
	Video  bool
	Status Status
}

// NeedsPolling reports whether the container must reach FINISHED before it can be published.
func (c Container) NeedsPolling() bool { return c.Video }

// IDs returns the container ids in order.
func IDs(cs []Container) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

// StatusFunc fetches the raw provider status code of a container, plus an optional detail
// message that providers attach to failures.
type StatusFunc func(ctx context.Context, id string) (code, detail string, err error)

// Poller waits for containers to finish processing.
type Poller struct {
	Provider    string
	Interval    time.Duration
	MaxAttempts int
	Waiter      publish.Waiter
}

// NewPoller builds a Poller from the shared config.
func NewPoller(provider string, cfg publish.Config) *Poller {
	return &Poller{
		Provider:    provider,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.MaxPollAttempts,
		Waiter:      publish.TimerWaiter{},
	}
}

// Wait polls status until the container reports FINISHED. ERROR and EXPIRED end the wait
// immediately with a ProcessingError; running out of attempts yields a TimeoutError.
// The first poll is immediate and Interval separates the following ones.
func (p *Poller) Wait(ctx context.Context, c *Container, status StatusFunc) error {
	step := "container " + c.ID
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.Waiter.Wait(ctx, p.Interval); err != nil {
				return fmt.Errorf("%s: %w", step, err)
			}
		}

		code, detail, err := status(ctx, c.ID)
		if err != nil {
			return err
		}
		logutil.Debugf("%s container status: id=%s status=%s attempt=%d/%d", p.Provider, c.ID, code, attempt, p.MaxAttempts)

		switch strings.ToUpper(code) {
		case "FINISHED", "PUBLISHED":
			c.Status = StatusFinished
			return nil
		case "ERROR", "EXPIRED":
			c.Status = StatusError
			return &publish.ProcessingError{Provider: p.Provider, Step: step, State: code, Detail: detail}
		}
	}
	return &publish.TimeoutError{Provider: p.Provider, Step: step, Attempts: p.MaxAttempts}
}

// WarnOrphans logs containers that were created but never published.
func WarnOrphans(provider, account string, cs []Container) {
	if len(cs) == 0 {
		return
	}
	logutil.Warn("unpublished containers left behind", "provider", provider, "account", account, "containers", strings.Join(IDs(cs), ","))
}
