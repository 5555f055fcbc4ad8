package directory

import "context"

// Entry is the directory's view of one user.
type Entry struct {
	UserId    string `json:"userId"`
	Role      string `json:"role"`
	ManagerId string `json:"managerId,omitempty"`
	Active    bool   `json:"active"`
}

// Client resolves users and roles against the identity/directory
// service. The engine only ever reaches the directory through this
// interface.
type Client interface {
	Resolve(ctx context.Context, userId string) (*Entry, error)
	FindByRole(ctx context.Context, role string) ([]string, error)
}
