package service

import (
	"context"

	"featuregate/internal/resolver"

	"github.com/google/uuid"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	traceKey    contextKey = "trace_id"
)

// Identity is the authenticated caller of a request
type Identity struct {
	UserID   string
	Name     string
	Role     string
	OrgID    string
	RoleID   string
	UserType string
	IP       string
}

// Subject converts the identity into the resolver subject. RoleID may be empty.
func (i *Identity) Subject() (resolver.Subject, error) {
	if i == nil || i.UserType == "" {
		return resolver.Subject{}, ErrInvalidSubject
	}
	userID, err := uuid.Parse(i.UserID)
	if err != nil {
		return resolver.Subject{}, ErrInvalidSubject
	}
	orgID, err := uuid.Parse(i.OrgID)
	if err != nil {
		return resolver.Subject{}, ErrInvalidSubject
	}
	sub := resolver.Subject{UserID: userID, OrgID: orgID, UserType: i.UserType}
	if i.RoleID != "" {
		if sub.RoleID, err = uuid.Parse(i.RoleID); err != nil {
			return resolver.Subject{}, ErrInvalidSubject
		}
	}
	return sub, nil
}

// WithIdentity injects the caller into the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the caller from the context
func GetIdentity(ctx context.Context) *Identity {
	val, ok := ctx.Value(identityKey).(*Identity)
	if !ok {
		return nil
	}
	return val
}

// GetOperator returns the name recorded in audit logs
func GetOperator(ctx context.Context) string {
	id := GetIdentity(ctx)
	if id == nil || id.Name == "" {
		return "system"
	}
	return id.Name
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceKey).(string)
	return traceID
}
