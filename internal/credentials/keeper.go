package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/storage"
)

// leaseMargin is how long before its lease ends a pair is renewed.
const leaseMargin = time.Minute

// Keeper keeps a backend logged in across repeated runs. Before a run it
// logs in again once the lease of the accepted credentials is about to end,
// or when the previous run failed with *storage.AuthError.
type Keeper struct {
	Backend     storage.Backend
	Source      Source
	Prompter    Prompter
	MaxAttempts int
	Log         logger.Logger

	now     func() time.Time
	expires time.Time
	stale   bool
}

// Login runs Authenticate and remembers when the accepted credentials expire.
func (k *Keeper) Login(ctx context.Context) error {
	started := k.clock()
	creds, err := authenticate(ctx, k.Backend, k.Source, k.Prompter, k.MaxAttempts, k.Log)
	if err != nil {
		return err
	}
	k.stale = false
	k.expires = time.Time{}
	if creds.Lease > 0 {
		k.expires = started.Add(creds.Lease)
		k.log().Debug("credentials leased", "backend", k.Backend.Name(), "expires", k.expires.Format(time.RFC3339))
	}
	return nil
}

// Do runs fn, logging in again first when the session needs it.
func (k *Keeper) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if k.stale || k.expired() {
		k.log().Info("renewing backend credentials", "backend", k.Backend.Name(), "rejected", k.stale)
		if err := k.Login(ctx); err != nil {
			return fmt.Errorf("renew credentials for %s backend: %w", k.Backend.Name(), err)
		}
	}

	err := fn(ctx)
	var authErr *storage.AuthError
	if errors.As(err, &authErr) {
		k.stale = true
	}
	return err
}

func (k *Keeper) expired() bool {
	return !k.expires.IsZero() && !k.clock().Before(k.expires.Add(-leaseMargin))
}

func (k *Keeper) clock() time.Time {
	if k.now != nil {
		return k.now()
	}
	return time.Now()
}

func (k *Keeper) log() logger.Logger {
	if k.Log == nil {
		return logger.Nop()
	}
	return k.Log
}
