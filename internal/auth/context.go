// ABOUTME: Request context helpers carrying the authenticated operator
// ABOUTME: Set by RequireBearer, read by admin API handlers

package auth

import "context"

type operatorKey struct{}

// WithOperator returns a context carrying the authenticated operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator set by RequireBearer, or "".
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
