package publish

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix returns the variable prefix for provider credentials, e.g. XPUBLISH_TELEGRAM_.
func EnvPrefix(p Provider) string {
	return envPrefix + strings.ToUpper(p.String()) + "_"
}

// CredentialsFromEnv reads provider credentials of type T from XPUBLISH_<PROVIDER>_* variables.
// environ replaces the process environment when non-nil. Missing variables are reported
// together as a MissingEnvError.
func CredentialsFromEnv[T Credentials](environ map[string]string) (T, error) {
	var zero T
	p := zero.Provider()

	opts := env.Options{Prefix: EnvPrefix(p)}
	if environ != nil {
		opts.Environment = environ
	}
	creds, err := env.ParseAsWithOptions[T](opts)
	if err != nil {
		if missing := missingVars(err); len(missing) > 0 {
			return zero, MissingEnvError{Provider: p.String(), Variables: missing}
		}
		return zero, fmt.Errorf("%s credentials: %w", p, err)
	}
	if err := creds.Validate(); err != nil {
		return zero, err
	}
	return creds, nil
}

func missingVars(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return nil
	}
	var missing []string
	for _, e := range agg.Errors {
		var notSet env.VarIsNotSetError
		var empty env.EmptyVarError
		switch {
		case errors.As(e, &notSet):
			missing = append(missing, notSet.Key)
		case errors.As(e, &empty):
			missing = append(missing, empty.Key)
		}
	}
	return missing
}

// HTTPClient returns a client for short API calls.
func (c Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.HTTPTimeout}
}

// UploadHTTPClient returns a client for media transfers, which may take much longer.
func (c Config) UploadHTTPClient() *http.Client {
	return &http.Client{Timeout: c.UploadTimeout}
}
