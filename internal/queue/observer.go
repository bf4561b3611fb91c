package queue

import "context"

// MarkFulfilledFromEvent is the entry point the (out-of-scope) chain log
// observer calls when it independently sees a RandomnessFulfilled event:
// the same idempotent transition MarkFulfilled performs for the processor's
// own successful-receipt path, exposed under its own name so a caller
// driven by on-chain events rather than a local submission has a
// self-describing method to call. Marking twice (processor then observer,
// or vice versa) is a no-op the second time.
func (s *Store) MarkFulfilledFromEvent(ctx context.Context, requestID string) error {
	return s.MarkFulfilled(ctx, requestID)
}
