package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/ethpandaops/authoor/pkg/directory"
	"github.com/ethpandaops/authoor/pkg/metrics"
	"github.com/ethpandaops/authoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrDenied is the single undifferentiated failure for every
// authentication outcome: unknown identifier, wrong secret, inactive or
// unconfirmed account, directory bind failure. Callers must not leak
// which part of the credential was wrong.
var ErrDenied = errors.New("authentication denied")

// Authenticator resolves credentials to principals, against either the
// local credential store or the external directory depending on
// configuration.
type Authenticator struct {
	log    logrus.FieldLogger
	cfg    *config.AuthConfig
	dirCfg *config.DirectoryConfig
	store  store.Store
	dir    directory.Directory
}

// NewAuthenticator creates an Authenticator. dir may be nil when
// directory mode is disabled.
func NewAuthenticator(
	log logrus.FieldLogger,
	cfg *config.AuthConfig,
	dirCfg *config.DirectoryConfig,
	st store.Store,
	dir directory.Directory,
) *Authenticator {
	return &Authenticator{
		log:    log.WithField("component", "authenticator"),
		cfg:    cfg,
		dirCfg: dirCfg,
		store:  st,
		dir:    dir,
	}
}

// AuthenticateCredentials verifies an identifier/secret pair and returns
// the matching user. Every failure collapses to ErrDenied.
func (a *Authenticator) AuthenticateCredentials(
	ctx context.Context, identifier, secret string,
) (*store.User, error) {
	var (
		user *store.User
		err  error
	)

	if a.dirCfg.Enabled {
		user, err = a.authenticateDirectory(ctx, identifier, secret)
	} else {
		user, err = a.authenticateLocal(ctx, identifier, secret)
	}

	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("password", "denied").Inc()

		return nil, err
	}

	metrics.AuthAttemptsTotal.WithLabelValues("password", "ok").Inc()

	return user, nil
}

// AuthenticateAPIKey verifies an API key id/secret pair and returns the
// key and its owning user for downstream role checks.
func (a *Authenticator) AuthenticateAPIKey(
	ctx context.Context, keyID, keySecret string,
) (*store.User, *store.APIKey, error) {
	key, err := a.store.GetAPIKey(ctx, keyID)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("apikey", "denied").Inc()

		return nil, nil, ErrDenied
	}

	if !VerifySecret(keySecret, key.Hash) {
		metrics.AuthAttemptsTotal.WithLabelValues("apikey", "denied").Inc()

		return nil, nil, ErrDenied
	}

	metrics.AuthAttemptsTotal.WithLabelValues("apikey", "ok").Inc()

	return &key.User, key, nil
}

// authenticateLocal verifies the secret against the stored password hash.
func (a *Authenticator) authenticateLocal(
	ctx context.Context, identifier, secret string,
) (*store.User, error) {
	user, err := a.lookupUser(ctx, identifier)
	if err != nil {
		return nil, ErrDenied
	}

	// Directory-provisioned accounts carry an empty hash and can never
	// authenticate locally.
	if user.PasswordHash == "" {
		return nil, ErrDenied
	}

	if !VerifySecret(secret, user.PasswordHash) {
		return nil, ErrDenied
	}

	if !user.Active {
		return nil, ErrDenied
	}

	if a.cfg.RequireConfirmedEmail && user.EmailConfirmedAt == nil {
		return nil, ErrDenied
	}

	return user, nil
}

// authenticateDirectory delegates verification to the external directory
// and lazily mirrors the identity into the local store on first login.
func (a *Authenticator) authenticateDirectory(
	ctx context.Context, identifier, secret string,
) (*store.User, error) {
	if err := a.dir.Bind(ctx, identifier, secret); err != nil {
		if errors.Is(err, directory.ErrUnavailable) {
			metrics.DirectoryUnavailableTotal.Inc()
			a.log.WithError(err).
				Warn("Directory unavailable during authentication")
		} else {
			a.log.WithField("user", identifier).
				Debug("Directory bind rejected")
		}

		return nil, ErrDenied
	}

	user, err := a.store.GetUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up directory user: %w", err)
	}

	return a.provisionDirectoryUser(ctx, identifier)
}

// provisionDirectoryUser creates the local mirror of a directory
// identity, populating the email from the directory when configured and
// available.
func (a *Authenticator) provisionDirectoryUser(
	ctx context.Context, username string,
) (*store.User, error) {
	var email *string

	if a.dirCfg.EmailAttribute != "" {
		value, err := a.dir.LookupAttribute(
			ctx, username, a.dirCfg.EmailAttribute,
		)
		if err == nil {
			email = &value
		}
	}

	now := time.Now().UTC()
	name := username

	user, err := a.store.FindOrCreateUser(ctx, &store.User{
		Username:         &name,
		Email:            email,
		Active:           true,
		EmailConfirmedAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning directory user: %w", err)
	}

	a.log.WithField("user", username).
		Info("Provisioned directory user")

	return user, nil
}

// lookupUser resolves the login identifier to a user. The configured
// identifier kind is tried first, then the other as a fallback so that
// API credential requests can present either.
func (a *Authenticator) lookupUser(
	ctx context.Context, identifier string,
) (*store.User, error) {
	if a.cfg.UsernameLogin {
		user, err := a.store.GetUserByUsername(ctx, identifier)
		if err == nil {
			return user, nil
		}

		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		return a.store.GetUserByEmail(ctx, identifier)
	}

	user, err := a.store.GetUserByEmail(ctx, identifier)
	if err == nil {
		return user, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return a.store.GetUserByUsername(ctx, identifier)
}
