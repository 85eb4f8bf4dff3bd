// Package actorctx carries who is acting, and from where, through a
// request's context.Context so services can log and audit without
// depending on the HTTP layer.
package actorctx

import "context"

type ctxKey struct{}

type Actor struct {
	UserID    string
	RequestID string
	IP        string
}

func With(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func From(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	a, _ := From(ctx)
	a.UserID = userID
	return With(ctx, a)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	a, ok := From(ctx)
	return a.UserID, ok && a.UserID != ""
}

func IPFrom(ctx context.Context) string {
	a, _ := From(ctx)
	return a.IP
}

func RequestIDFrom(ctx context.Context) string {
	a, _ := From(ctx)
	return a.RequestID
}
