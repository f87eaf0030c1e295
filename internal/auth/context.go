package auth

import "context"

// Result is either Authenticated(principal) or Anonymous.
type Result struct {
	principal *Principal
}

func Authenticated(principal Principal) Result {
	return Result{principal: &principal}
}

func Anonymous() Result {
	return Result{}
}

func (r Result) Principal() (Principal, bool) {
	if r.principal == nil {
		return Principal{}, false
	}
	return *r.principal, true
}

func (r Result) IsAuthenticated() bool {
	return r.principal != nil
}

type resultKey struct{}

func WithResult(ctx context.Context, result Result) context.Context {
	return context.WithValue(ctx, resultKey{}, result)
}

// FromContext returns the request's authentication result, Anonymous when none was attached.
func FromContext(ctx context.Context) Result {
	result, ok := ctx.Value(resultKey{}).(Result)
	if !ok {
		return Anonymous()
	}
	return result
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	return FromContext(ctx).Principal()
}
