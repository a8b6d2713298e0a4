package policy

import "context"

// NoOp is the identity policy: it implements PostCallSuccessHook and
// returns every response unmodified. It is the default policy (the
// POLICY_LOADER_REF default is "policy:NoOp"), and a fixture in the
// dispatcher/httpapi tests that need a policy with zero effect.
type NoOp struct{}

func (NoOp) PostCallSuccess(_ context.Context, _, resp map[string]any) (map[string]any, error) {
	return resp, nil
}
