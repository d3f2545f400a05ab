// Package router is the entry point callers use to publish: it picks the adapter for an
// account's provider, runs it, and folds every outcome into a publish.Result.
package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/bluesky"
	"github.com/blacktop/xpublish/internal/publish/facebook"
	"github.com/blacktop/xpublish/internal/publish/instagram"
	"github.com/blacktop/xpublish/internal/publish/mastodon"
	"github.com/blacktop/xpublish/internal/publish/telegram"
	"github.com/blacktop/xpublish/internal/publish/threads"
	"github.com/blacktop/xpublish/internal/publish/tokens"
	"github.com/blacktop/xpublish/internal/publish/twitter"
	"github.com/blacktop/xpublish/internal/publish/youtube"
)

// Router dispatches publish calls to provider adapters. It is safe for concurrent use.
type Router struct {
	cfg       publish.Config
	http      *http.Client
	refresher tokens.Refresher
	waiter    publish.Waiter
	newRunID  func() string

	posters map[publish.Provider]publish.Poster
}

// Option customizes a Router.
type Option func(*Router)

// WithHTTPClient sends every adapter's traffic through hc instead of the per-config clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Router) { r.http = hc }
}

// WithRefresher replaces the Google refresh-token grant used by YouTube.
func WithRefresher(refresher tokens.Refresher) Option {
	return func(r *Router) { r.refresher = refresher }
}

// WithWaiter replaces the timer used between batch and thread calls. Adapters that poll
// (Instagram, Threads and X media processing) wait through it too.
func WithWaiter(w publish.Waiter) Option {
	return func(r *Router) { r.waiter = w }
}

// WithPoster overrides the adapter for p.Provider().
func WithPoster(p publish.Poster) Option {
	return func(r *Router) { r.posters[p.Provider()] = p }
}

// New builds a Router with one adapter per provider.
func New(cfg publish.Config, opts ...Option) *Router {
	r := &Router{
		cfg:      cfg,
		waiter:   publish.TimerWaiter{},
		newRunID: uuid.NewString,
		posters:  make(map[publish.Provider]publish.Poster, len(publish.Providers())),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, p := range publish.Providers() {
		if _, ok := r.posters[p]; ok {
			continue
		}
		poster, err := r.posterFor(p)
		if err != nil {
			// every declared provider has a case in posterFor
			panic(err)
		}
		if ws, ok := poster.(waiterSetter); ok {
			ws.SetWaiter(r.waiter)
		}
		r.posters[p] = poster
	}
	return r
}

type waiterSetter interface {
	SetWaiter(publish.Waiter)
}

func (r *Router) posterFor(p publish.Provider) (publish.Poster, error) {
	switch p {
	case publish.Telegram:
		return telegram.New(r.cfg, r.http), nil
	case publish.Facebook:
		return facebook.New(r.cfg, r.http), nil
	case publish.Instagram:
		return instagram.New(r.cfg, r.http), nil
	case publish.Threads:
		return threads.New(r.cfg, r.http), nil
	case publish.Twitter:
		return twitter.New(r.cfg, r.http), nil
	case publish.YouTube:
		return youtube.New(r.cfg, r.http, r.refresher), nil
	case publish.Mastodon:
		return mastodon.New(r.cfg, r.http), nil
	case publish.Bluesky:
		return bluesky.New(r.cfg, r.http), nil
	default:
		return nil, fmt.Errorf("no adapter for %s", p)
	}
}

// Poster returns the adapter serving p.
func (r *Router) Poster(p publish.Provider) (publish.Poster, bool) {
	poster, ok := r.posters[p]
	return poster, ok
}

// Publish sends one post to one account. It never panics and never returns an error:
// every failure is reported through Result.Error.
func (r *Router) Publish(ctx context.Context, account publish.Account, text string, media []publish.MediaItem, opts publish.Options) publish.Result {
	log := logutil.With("run", r.newRunID(), "provider", account.Provider().String(), "account", account.ID)

	poster, ok := r.posters[account.Provider()]
	if !ok {
		res := publish.Failure(publish.ValidationError{Provider: account.Provider().String(), Reason: "no adapter for account"})
		log.Warn("publish failed", "error", res.Error)
		return res
	}

	log.Debug("publishing", "media", len(media), "text_len", len(text))
	res := publish.Run(ctx, poster, publish.Request{
		Account: account,
		Text:    text,
		Media:   media,
		Options: opts,
	})
	if res.Success {
		log.Info("published", "external_id", res.ExternalID)
	} else {
		log.Warn("publish failed", "error", res.Error)
	}
	return res
}

// Outcome is the result of publishing to one account within a batch.
type Outcome struct {
	Account  string `json:"account"`
	Provider string `json:"provider"`
	publish.Result
}

// PublishAll publishes the same post to each account in order, waiting
// Config.InterCallDelay between calls. Once ctx is done the remaining accounts fail
// without being called.
func (r *Router) PublishAll(ctx context.Context, accounts []publish.Account, text string, media []publish.MediaItem, opts publish.Options) []Outcome {
	outcomes := make([]Outcome, 0, len(accounts))
	for i, account := range accounts {
		var res publish.Result
		if err := r.pause(ctx, i); err != nil {
			res = publish.Failure(err)
		} else {
			res = r.Publish(ctx, account, text, media, opts)
		}
		outcomes = append(outcomes, Outcome{Account: account.ID, Provider: account.Provider().String(), Result: res})
	}
	return outcomes
}

// Part is one post of a thread.
type Part struct {
	Text  string
	Media []publish.MediaItem
}

// PublishThread posts parts in order, each replying to the previous one. It stops at
// the first failure and returns the results so far, the failure included.
func (r *Router) PublishThread(ctx context.Context, account publish.Account, parts []Part, opts publish.Options) []publish.Result {
	if len(parts) > 1 && !SupportsReplies(account.Provider()) {
		return []publish.Result{publish.Failure(publish.ValidationError{
			Provider: account.Provider().String(),
			Reason:   "threads are not supported",
		})}
	}

	results := make([]publish.Result, 0, len(parts))
	for i, part := range parts {
		if err := r.pause(ctx, i); err != nil {
			return append(results, publish.Failure(err))
		}
		res := r.Publish(ctx, account, part.Text, part.Media, opts)
		results = append(results, res)
		if !res.Success {
			break
		}
		opts.ReplyToID = res.ExternalID
	}
	return results
}

// PublishThreads posts the same thread to each account in order, waiting
// Config.InterCallDelay between accounts. A failing thread does not stop the others.
func (r *Router) PublishThreads(ctx context.Context, accounts []publish.Account, parts []Part, opts publish.Options) []Outcome {
	var outcomes []Outcome
	for i, account := range accounts {
		var results []publish.Result
		if err := r.pause(ctx, i); err != nil {
			results = []publish.Result{publish.Failure(err)}
		} else {
			results = r.PublishThread(ctx, account, parts, opts)
		}
		for _, res := range results {
			outcomes = append(outcomes, Outcome{Account: account.ID, Provider: account.Provider().String(), Result: res})
		}
	}
	return outcomes
}

// SupportsReplies reports whether p honours Options.ReplyToID.
func SupportsReplies(p publish.Provider) bool {
	switch p {
	case publish.Telegram, publish.Threads, publish.Twitter, publish.Mastodon, publish.Bluesky:
		return true
	case publish.Facebook, publish.Instagram, publish.YouTube:
		return false
	default:
		return false
	}
}

func (r *Router) pause(ctx context.Context, i int) error {
	if i == 0 {
		return ctx.Err()
	}
	return r.waiter.Wait(ctx, r.cfg.InterCallDelay)
}
