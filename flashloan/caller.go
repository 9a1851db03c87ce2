package flashloan

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type callerKey struct{}

// WithCaller returns a context whose calls are made on behalf of caller, the
// equivalent of msg.sender.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller recorded by WithCaller, or the zero address.
func CallerFrom(ctx context.Context) common.Address {
	if caller, ok := ctx.Value(callerKey{}).(common.Address); ok {
		return caller
	}
	return common.Address{}
}

// RequireCaller fails with ErrNotAuthorized unless the context caller is one
// of allowed. Zero addresses in allowed are ignored.
func RequireCaller(ctx context.Context, allowed ...common.Address) error {
	caller := CallerFrom(ctx)
	if caller != (common.Address{}) {
		for _, a := range allowed {
			if a == caller {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: caller %s", ErrNotAuthorized, caller.Hex())
}
