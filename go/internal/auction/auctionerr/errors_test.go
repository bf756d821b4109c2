package auctionerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := New(CodeBidNotLower, "bid %s is not below %s", "10", "9")
	check.True(t, errors.Is(err, ErrBidNotLower))
	check.False(t, errors.Is(err, ErrDecrementTooSmall))

	wrapped := fmt.Errorf("place bid: %w", err)
	check.True(t, errors.Is(wrapped, ErrBidNotLower))
	check.Equal(t, CodeBidNotLower, CodeOf(wrapped))
	check.Equal(t, "bid 10 is not below 9", MessageOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodePersistenceFailure, cause, "save bid")
	check.True(t, errors.Is(err, ErrPersistenceFailure))
	check.True(t, errors.Is(err, cause))
	check.Equal(t, Code(""), CodeOf(cause))
}
