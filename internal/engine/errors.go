package engine

import (
	"context"
	"errors"

	"openalpha/internal/backtest"
	"openalpha/internal/domain"
	"openalpha/internal/marketdata"
	"openalpha/internal/store"
	"openalpha/internal/strategy"
)

// Kind classifies an error for presentation layers.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindUpstream
	KindCanceled
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindCanceled:
		return "canceled"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// ErrorKind maps err to the Kind a front end should report. Configuration,
// input and numeric errors are all the caller's to fix.
func ErrorKind(err error) Kind {
	var (
		cfgErr *strategy.ConfigError
		inErr  *domain.InputError
		numErr *backtest.NumericError
	)
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &cfgErr), errors.As(err, &inErr), errors.As(err, &numErr):
		return KindInvalid
	case errors.Is(err, marketdata.ErrNoData), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoRunStore):
		return KindUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}
