package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrEmptyTokens      = errors.New("no tokens in batch")
	ErrTooManyTokens    = errors.New("too many tokens in batch")
	ErrMissingAuthToken = errors.New("missing marketplace auth token")
	ErrNonceTooHigh     = errors.New("relay rejected bundle: nonce too high")
	ErrSigningDenied    = errors.New("signing service denied operation")
	ErrRateLimited      = errors.New("rate limited")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)

// MissingTokensError reports the tokens of a batch that could not be resolved
// to a valid fulfillment. Any missing token invalidates the whole batch; the
// aggregator never produces a partial payload.
type MissingTokensError struct {
	TokenIDs []string
}

func (e *MissingTokensError) Error() string {
	return fmt.Sprintf("missing tokens: %s", strings.Join(e.TokenIDs, ", "))
}

// IsMissingTokens reports whether err is a MissingTokensError and returns it.
func IsMissingTokens(err error) (*MissingTokensError, bool) {
	var mt *MissingTokensError
	if errors.As(err, &mt) {
		return mt, true
	}
	return nil, false
}
