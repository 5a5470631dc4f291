package repository

import "context"

// Transactor runs fn as one atomic unit. Repositories called with the ctx
// handed to fn take part in the same transaction; a non-nil error from fn
// rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
