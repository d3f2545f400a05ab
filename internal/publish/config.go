package publish

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "XPUBLISH_"

// Config holds the tunables shared by every adapter.
type Config struct {
	// PollInterval is the wait between container status checks.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	// MaxPollAttempts bounds container status checks (30 x 5s = 150s worst case).
	MaxPollAttempts int `env:"MAX_POLL_ATTEMPTS" envDefault:"30"`
	// ChunkSize is the APPEND segment size for chunked uploads.
	ChunkSize int `env:"CHUNK_SIZE" envDefault:"5242880"`
	// MaxStatusChecks bounds STATUS polls after a chunked FINALIZE.
	MaxStatusChecks int `env:"MAX_STATUS_CHECKS" envDefault:"60"`
	// DefaultCheckAfter is used when FINALIZE/STATUS omit check_after_secs.
	DefaultCheckAfter time.Duration `env:"DEFAULT_CHECK_AFTER" envDefault:"5s"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	// UploadTimeout applies to media downloads and byte uploads, which can be large.
	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"10m"`
	// InterCallDelay separates consecutive calls in a batch publish.
	InterCallDelay time.Duration `env:"INTER_CALL_DELAY" envDefault:"2s"`

	Endpoints Endpoints `envPrefix:"ENDPOINT_"`
}

// Endpoints are the API base URLs per provider, overridable for testing or API version bumps.
type Endpoints struct {
	Telegram        string `env:"TELEGRAM" envDefault:"https://api.telegram.org"`
	FacebookGraph   string `env:"FACEBOOK_GRAPH" envDefault:"https://graph.facebook.com/v21.0"`
	InstagramGraph  string `env:"INSTAGRAM_GRAPH" envDefault:"https://graph.facebook.com/v21.0"`
	Threads         string `env:"THREADS" envDefault:"https://graph.threads.net/v1.0"`
	TwitterUpload   string `env:"TWITTER_UPLOAD" envDefault:"https://upload.twitter.com/1.1/media/upload.json"`
	TwitterMetadata string `env:"TWITTER_METADATA" envDefault:"https://upload.twitter.com/1.1/media/metadata/create.json"`
	YouTubeUpload   string `env:"YOUTUBE_UPLOAD" envDefault:"https://www.googleapis.com/upload/youtube/v3/videos"`
	GoogleToken     string `env:"GOOGLE_TOKEN" envDefault:"https://oauth2.googleapis.com/token"`
	BlueskyPDS      string `env:"BLUESKY_PDS" envDefault:"https://bsky.social"`
}

// DefaultConfig returns the documented defaults without consulting the environment.
func DefaultConfig() Config {
	cfg, err := parseConfig(map[string]string{})
	if err != nil {
		// only reachable if a default tag above is malformed
		panic(err)
	}
	return cfg
}

// LoadConfig overlays XPUBLISH_* environment variables on the defaults.
func LoadConfig() (Config, error) {
	return parseConfig(nil)
}

func parseConfig(environ map[string]string) (Config, error) {
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects tunables that would make polling or uploading impossible.
func (c Config) Validate() error {
	switch {
	case c.MaxPollAttempts < 1:
		return fmt.Errorf("config: max poll attempts must be positive, got %d", c.MaxPollAttempts)
	case c.MaxStatusChecks < 1:
		return fmt.Errorf("config: max status checks must be positive, got %d", c.MaxStatusChecks)
	case c.ChunkSize < 1:
		return fmt.Errorf("config: chunk size must be positive, got %d", c.ChunkSize)
	case c.PollInterval < 0 || c.InterCallDelay < 0 || c.DefaultCheckAfter < 0:
		return fmt.Errorf("config: durations must not be negative")
	}
	return nil
}
