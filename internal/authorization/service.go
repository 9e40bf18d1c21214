package authorization

import "context"

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Principal is an authenticated admin caller.
type Principal struct {
	// Subject is the casbin subject, "admin:<fingerprint>".
	Subject string
	Role    string
}

type Service interface {
	// Authenticate resolves an X-Admin-Key value to a principal.
	Authenticate(ctx context.Context, key string) (Principal, error)
	Authorize(ctx context.Context, principal Principal, object string, action string) error
}
