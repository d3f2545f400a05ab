package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Run invokes p.Post and folds every outcome, panics included, into a Result.
func Run(ctx context.Context, p Poster, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("%s: internal error: %v", p.Name(), r))
		}
	}()

	if err := checkRequest(p, req); err != nil {
		return Failure(err)
	}

	id, err := p.Post(ctx, req)
	if err != nil {
		return Failure(err)
	}
	if strings.TrimSpace(id) == "" {
		return Failure(&MissingFieldError{Provider: p.Name(), Step: "publish", Field: "id"})
	}
	return Success(id)
}

// Success builds a successful Result.
func Success(externalID string) Result {
	return Result{Success: true, ExternalID: externalID}
}

// Failure builds a failed Result from err.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Result{Success: false, Error: err.Error()}
}

func checkRequest(p Poster, req Request) error {
	if req.Account.Credentials == nil {
		return ValidationError{Provider: p.Name(), Reason: "account has no credentials"}
	}
	if got := req.Account.Provider(); got != p.Provider() {
		return ValidationError{Provider: p.Name(), Reason: fmt.Sprintf("account %q holds %s credentials", req.Account.ID, got)}
	}
	return req.Account.Credentials.Validate()
}
