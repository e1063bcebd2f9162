package indexer

import (
	"errors"
	"fmt"
	"net/http"

	graphql "github.com/hasura/go-graphql-client"

	"voucherRelay/internal/retry"
)

// ErrNotFound is reported when the indexer has no record for the requested item.
var ErrNotFound = errors.New("not found")

// codeNotFound is the extensions code servers use for a missing entity.
const codeNotFound = "NOT_FOUND"

// FetchError reports a failed indexer query. It is transient from the caller's point of
// view: re-triggering the action repeats the query.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("indexer %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// statusCoder is implemented by the network error the GraphQL client reports for
// non-200 replies.
type statusCoder interface {
	StatusCode() int
}

// classify marks which query failures are worth retrying. Transport failures, 5xx and
// 429 are retried. Errors returned by the GraphQL server are permanent; a failure of the
// root field itself means the requested item does not exist.
func classify(field string, err error) error {
	var gqlErrs graphql.Errors
	if !errors.As(err, &gqlErrs) || len(gqlErrs) == 0 {
		return err
	}

	for _, gqlErr := range gqlErrs {
		code, _ := gqlErr.Extensions["code"].(string)
		switch {
		case code == graphql.ErrRequestError:
			var status statusCoder
			if errors.As(err, &status) && !retryableStatus(status.StatusCode()) {
				return retry.Permanent(err)
			}
			return err
		case code == codeNotFound || isRootFieldError(gqlErr, field):
			return retry.Permanent(fmt.Errorf("%w: %v", ErrNotFound, err))
		}
	}
	return retry.Permanent(err)
}

func isRootFieldError(gqlErr graphql.Error, field string) bool {
	return len(gqlErr.Path) == 1 && gqlErr.Path[0] == field
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}
