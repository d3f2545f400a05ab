/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
	"github.com/blacktop/xpublish/internal/publish/bluesky"
	"github.com/blacktop/xpublish/internal/publish/facebook"
	"github.com/blacktop/xpublish/internal/publish/instagram"
	"github.com/blacktop/xpublish/internal/publish/mastodon"
	"github.com/blacktop/xpublish/internal/publish/router"
	"github.com/blacktop/xpublish/internal/publish/telegram"
	"github.com/blacktop/xpublish/internal/publish/threads"
	"github.com/blacktop/xpublish/internal/publish/twitter"
	"github.com/blacktop/xpublish/internal/publish/youtube"
)

const threadSeparator = "---"

type options struct {
	message    string
	media      []string
	targets    []string
	privacy    string
	replyTo    string
	locationID string
	delay      time.Duration
	thread     bool
	dryRun     bool
	jsonOutput bool
	verbose    bool
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "xpublish [message]",
		Short: "Publish a post to social networks",
		Long: "xpublish sends one post, with optional media hosted elsewhere, to Telegram, Facebook, " +
			"Instagram, Threads, X, YouTube, Mastodon and Bluesky. Credentials are read from " +
			"XPUBLISH_<PROVIDER>_* environment variables.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logutil.SetVerbose(opts.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, args, opts)
		},
		Example: `  xpublish "hello world" --target telegram --target mastodon
  xpublish -m "new clip" --media https://cdn.example.com/clip.mp4 --target youtube --privacy unlisted
  xpublish "look" --media "https://cdn.example.com/render?id=7|image/png" --target instagram
  printf 'part one\n---\npart two' | xpublish --thread --target x`,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.message, "message", "m", "", "Post text")
	flags.StringArrayVar(&opts.media, "media", nil, "Media URL to attach, optionally as URL|mime-type (repeatable)")
	flags.StringSliceVarP(&opts.targets, "target", "t", []string{"all"}, "Providers to post to ("+strings.Join(providerNames(), ", ")+", or all)")
	flags.StringVar(&opts.privacy, "privacy", "", "Visibility for providers that support it (public, unlisted, private)")
	flags.StringVar(&opts.replyTo, "reply-to", "", "Provider post id to reply to")
	flags.StringVar(&opts.locationID, "location-id", "", "Location id for providers that support geotagging")
	flags.DurationVar(&opts.delay, "delay", 0, "Delay between providers (default from XPUBLISH_INTER_CALL_DELAY)")
	flags.BoolVar(&opts.thread, "thread", false, "Split the message on lines containing only --- and post a reply chain")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print actions without posting")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "V", false, "Enable debug logging")
	flags.SortFlags = false

	cmd.AddCommand(newCompletionCommand())

	return cmd
}

func runRoot(cmd *cobra.Command, args []string, opts *options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	message, err := resolveMessage(cmd, args, opts.message)
	if err != nil {
		return err
	}
	media, err := parseMedia(opts.media)
	if err != nil {
		return err
	}
	if message == "" && len(media) == 0 {
		return errors.New("a message or --media is required")
	}

	providers, explicit, err := normalizeTargets(opts.targets)
	if err != nil {
		return err
	}
	accounts, err := buildAccounts(providers, explicit, credentialsFromEnv)
	if err != nil {
		return err
	}

	cfg, err := publish.LoadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("delay") {
		cfg.InterCallDelay = opts.delay
	}

	postOpts := publish.Options{
		LocationID: strings.TrimSpace(opts.locationID),
		Privacy:    strings.TrimSpace(opts.privacy),
		ReplyToID:  strings.TrimSpace(opts.replyTo),
	}
	parts := []router.Part{{Text: message, Media: media}}
	if opts.thread {
		parts = splitThread(message, media)
	}

	out := cmd.OutOrStdout()
	if opts.dryRun {
		return printPlan(out, accounts, parts, postOpts, opts.jsonOutput)
	}

	r := router.New(cfg)
	var outcomes []router.Outcome
	if len(parts) == 1 {
		outcomes = r.PublishAll(ctx, accounts, message, media, postOpts)
	} else {
		outcomes = r.PublishThreads(ctx, accounts, parts, postOpts)
	}
	return report(out, outcomes, opts.jsonOutput)
}

func resolveMessage(cmd *cobra.Command, args []string, flagValue string) (string, error) {
	message := flagValue

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseMedia reads URL or URL|mime-type values. Without an explicit type the URL path
// extension decides; unknown extensions become application/octet-stream.
func parseMedia(values []string) ([]publish.MediaItem, error) {
	items := make([]publish.MediaItem, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		rawURL, mimetype, _ := strings.Cut(raw, "|")
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("media %q: must be an http(s) URL", rawURL)
		}
		mimetype = strings.TrimSpace(mimetype)
		if mimetype == "" {
			mimetype = mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))
		}
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		if mt, _, err := mime.ParseMediaType(mimetype); err == nil {
			mimetype = mt
		}
		items = append(items, publish.MediaItem{URL: rawURL, MimeType: mimetype})
	}
	return items, nil
}

// normalizeTargets resolves --target values into providers. explicit is false when the
// selection came from "all".
func normalizeTargets(values []string) (providers []publish.Provider, explicit bool, err error) {
	seen := map[publish.Provider]bool{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return publish.Providers(), false, nil
		}
		p, err := publish.ParseProvider(raw)
		if err != nil {
			return nil, false, fmt.Errorf("unsupported target %q", raw)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, false, errors.New("no targets selected")
	}
	return providers, true, nil
}

type credentialsLoader func(publish.Provider) (publish.Credentials, error)

// buildAccounts loads credentials for each provider. Explicit targets must all be
// configured; with "all", providers that have no variables set are skipped.
func buildAccounts(providers []publish.Provider, explicit bool, load credentialsLoader) ([]publish.Account, error) {
	accounts := make([]publish.Account, 0, len(providers))
	var errs []error
	for _, p := range providers {
		creds, err := load(p)
		if err != nil {
			var missing publish.MissingEnvError
			if !explicit && errors.As(err, &missing) {
				logutil.Debugf("skipping %s: %v", p, err)
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		account, err := publish.NewAccount(p.String(), creds)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		accounts = append(accounts, account)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(accounts) == 0 {
		return nil, errors.New("no providers configured; set XPUBLISH_<PROVIDER>_* credentials")
	}
	return accounts, nil
}

func credentialsFromEnv(p publish.Provider) (publish.Credentials, error) {
	switch p {
	case publish.Telegram:
		return asCredentials(telegram.CredentialsFromEnv())
	case publish.Facebook:
		return asCredentials(facebook.CredentialsFromEnv())
	case publish.Instagram:
		return asCredentials(instagram.CredentialsFromEnv())
	case publish.Threads:
		return asCredentials(threads.CredentialsFromEnv())
	case publish.Twitter:
		return asCredentials(twitter.CredentialsFromEnv())
	case publish.YouTube:
		return asCredentials(youtube.CredentialsFromEnv())
	case publish.Mastodon:
		return asCredentials(mastodon.CredentialsFromEnv())
	case publish.Bluesky:
		return asCredentials(bluesky.CredentialsFromEnv())
	default:
		return nil, fmt.Errorf("target %q is not implemented", p)
	}
}

func asCredentials[T publish.Credentials](creds T, err error) (publish.Credentials, error) {
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// splitThread breaks text on lines holding only the separator, surrounding blanks ignored.
// Media goes with the first part.
func splitThread(text string, media []publish.MediaItem) []router.Part {
	var (
		parts   []router.Part
		current []string
	)
	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
			parts = append(parts, router.Part{Text: chunk})
		}
		current = current[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == threadSeparator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	if len(parts) == 0 {
		parts = []router.Part{{}}
	}
	parts[0].Media = media
	return parts
}

type plannedPost struct {
	Provider string              `json:"provider"`
	Part     int                 `json:"part"`
	Text     string              `json:"text"`
	Media    []publish.MediaItem `json:"media,omitempty"`
	Options  publish.Options     `json:"options"`
}

func printPlan(out io.Writer, accounts []publish.Account, parts []router.Part, opts publish.Options, asJSON bool) error {
	var plan []plannedPost
	for _, account := range accounts {
		for i, part := range parts {
			plan = append(plan, plannedPost{
				Provider: account.Provider().String(),
				Part:     i + 1,
				Text:     part.Text,
				Media:    part.Media,
				Options:  opts,
			})
		}
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	for _, p := range plan {
		fmt.Fprintf(out, "[dry-run] would post to %s (part %d): %q\n", p.Provider, p.Part, p.Text)
		for _, m := range p.Media {
			fmt.Fprintf(out, "[dry-run]   media: %s (%s, %s)\n", m.URL, m.MimeType, m.Kind())
		}
	}
	return nil
}

func report(out io.Writer, outcomes []router.Outcome, asJSON bool) error {
	var errs []error
	for _, o := range outcomes {
		if !o.Success {
			errs = append(errs, fmt.Errorf("%s: %s", o.Provider, o.Error))
		}
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			return err
		}
	} else {
		for _, o := range outcomes {
			if o.Success {
				fmt.Fprintf(out, "posted to %s: %s\n", o.Provider, o.ExternalID)
			} else {
				fmt.Fprintf(out, "failed to post to %s: %s\n", o.Provider, o.Error)
			}
		}
	}
	return errors.Join(errs...)
}

func providerNames() []string {
	names := make([]string, 0, len(publish.Providers()))
	for _, p := range publish.Providers() {
		names = append(names, p.String())
	}
	return names
}
