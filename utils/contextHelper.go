package utils

import "context"

type contextKey string

const (
	// bearer credential supplied by the auth session
	ContextKeyToken         = contextKey("Token")
	ContextKeyBusinessId    = contextKey("BusinessId")
	ContextKeyUsername      = contextKey("Username")
	ContextKeyUserId        = contextKey("UserId")
	ContextKeyCorrelationId = contextKey("CorrelationId")
)

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyToken)
}

func GetBusinessIdFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyBusinessId)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(ContextKeyUserId).(int)
	return v, ok
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyToken, token)
}

func SetBusinessIdInContext(ctx context.Context, businessId string) context.Context {
	return context.WithValue(ctx, ContextKeyBusinessId, businessId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

// business id, or "default" when the session did not set one
func BusinessIdOrDefault(ctx context.Context) string {
	if v, ok := GetBusinessIdFromContext(ctx); ok && v != "" {
		return v
	}
	return "default"
}
