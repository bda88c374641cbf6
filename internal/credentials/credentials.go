// Package credentials obtains backend credentials and drives the
// authentication loop of an unauthenticated backend.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kebairia/cloudbackup/internal/config"
	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/storage"
	"github.com/kebairia/cloudbackup/internal/vault"
)

// Credentials is a login/password pair.
type Credentials struct {
	Login    string
	Password string
	// Lease is how long the pair stays valid. Zero means it does not expire.
	Lease time.Duration
}

type pair struct{ login, password string }

// Source supplies the credentials tried first.
type Source interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static is a Source returning fixed credentials, possibly empty.
type Static Credentials

func (s Static) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// VaultSource reads the credentials from a Vault secret.
type VaultSource struct {
	Client *vault.Client
	Path   string
}

func (s *VaultSource) Credentials(ctx context.Context) (Credentials, error) {
	creds, err := s.Client.GetCredentials(ctx, s.Path)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Login: creds.Login, Password: creds.Password, Lease: creds.TTL}, nil
}

// NewSource returns a VaultSource when cfg.Vault is enabled and the
// configured login and password otherwise.
func NewSource(ctx context.Context, cfg config.CredentialsConfig) (Source, error) {
	if !cfg.Vault.Enabled() {
		return Static{Login: cfg.Login, Password: cfg.Password}, nil
	}
	opts := []vault.Option{vault.WithAddress(cfg.Vault.Address)}
	if cfg.Vault.Token != "" {
		opts = append(opts, vault.WithToken(cfg.Vault.Token))
	}
	if cfg.Vault.RoleID != "" {
		opts = append(opts, vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName))
	}
	client, err := vault.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vault client init: %w", err)
	}
	return &VaultSource{Client: client, Path: cfg.Vault.Path}, nil
}

// Authenticate logs backend in. The credentials from src are tried first;
// after each rejection fresh ones are asked from prompter, and a pair that
// was already rejected is never sent again. Failures other than
// *storage.AuthError end the loop at once. maxAttempts <= 0 means no limit.
func Authenticate(
	ctx context.Context,
	backend storage.Backend,
	src Source,
	prompter Prompter,
	maxAttempts int,
	log logger.Logger,
) error {
	_, err := authenticate(ctx, backend, src, prompter, maxAttempts, log)
	return err
}

// authenticate is Authenticate returning the accepted credentials.
func authenticate(
	ctx context.Context,
	backend storage.Backend,
	src Source,
	prompter Prompter,
	maxAttempts int,
	log logger.Logger,
) (Credentials, error) {
	if log == nil {
		log = logger.Nop()
	}
	var creds Credentials
	if src != nil {
		var err error
		if creds, err = src.Credentials(ctx); err != nil {
			return Credentials{}, fmt.Errorf("load credentials: %w", err)
		}
	}

	rejected := make(map[pair]bool)
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Credentials{}, err
		}

		key := pair{creds.Login, creds.Password}
		if rejected[key] {
			log.Warn("credentials were already rejected, not sending them again", "backend", backend.Name())
		} else {
			err := backend.Authenticate(ctx, creds.Login, creds.Password)
			if err == nil {
				log.Debug("authenticated", "backend", backend.Name(), "attempt", attempt)
				return creds, nil
			}
			var authErr *storage.AuthError
			if !errors.As(err, &authErr) {
				return Credentials{}, err
			}
			log.Warn("authentication failed", "backend", backend.Name(), "attempt", attempt, "error", err.Error())
			rejected[key] = true
			lastErr = err
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return Credentials{}, lastErr
		}
		if prompter == nil {
			return Credentials{}, lastErr
		}
		next, err := prompter.Prompt(ctx, backend.Name())
		if errors.Is(err, ErrNotInteractive) {
			return Credentials{}, lastErr
		}
		if err != nil {
			return Credentials{}, fmt.Errorf("read credentials: %w", err)
		}
		creds = next
	}
}
