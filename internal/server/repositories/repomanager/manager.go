// Package repomanager vends repositories for the configured storage backend
// (PostgreSQL or in-process memory) together with migrations, transactions
// and readiness checks.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Users() users.Repository
	// InTx runs fn with repositories bound to a single transaction.
	// The transaction commits when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, users users.Repository) error) error
	Ping(ctx context.Context) error
	Close() error
}
