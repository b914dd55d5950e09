package auth

import (
	"context"
	"errors"

	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/ethpandaops/authoor/pkg/directory"
	"github.com/ethpandaops/authoor/pkg/metrics"
	"github.com/ethpandaops/authoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Requirement is one authorization requirement: a set of alternative
// role names, satisfied when the principal holds ANY one of them.
// Multiple requirements passed to HasRoles are ANDed together.
type Requirement []string

// Role builds a single-role requirement.
func Role(name string) Requirement {
	return Requirement{name}
}

// AnyOf builds a requirement satisfied by any one of the named roles.
func AnyOf(names ...string) Requirement {
	return Requirement(names)
}

// Authorizer decides whether a principal satisfies role requirements.
// It is stateless: a pure function of its inputs plus read access to the
// directory when directory mode is enabled.
type Authorizer struct {
	log logrus.FieldLogger
	cfg *config.DirectoryConfig
	dir directory.Directory
}

// NewAuthorizer creates an Authorizer. dir may be nil when directory
// mode is disabled.
func NewAuthorizer(
	log logrus.FieldLogger,
	cfg *config.DirectoryConfig,
	dir directory.Directory,
) *Authorizer {
	return &Authorizer{
		log: log.WithField("component", "authorizer"),
		cfg: cfg,
		dir: dir,
	}
}

// HasRole reports whether the user satisfies a single role name.
//
// In directory mode the role is mapped to a configured group and
// membership is resolved externally; an unmapped role can never be
// satisfied. In local mode the user's role set is consulted, with the
// "admin" role acting as a universal override — except when the required
// role is "admin" itself, which demands literal possession.
func (a *Authorizer) HasRole(
	ctx context.Context, user *store.User, role string,
) bool {
	if user == nil {
		return false
	}

	if a.cfg.Enabled {
		return a.hasDirectoryRole(ctx, user, role)
	}

	if user.HasLiteralRole(role) {
		return true
	}

	return role != store.AdminRole && user.HasLiteralRole(store.AdminRole)
}

// HasRoles reports whether the user satisfies ALL of the given
// requirements. Evaluation short-circuits on the first failure.
func (a *Authorizer) HasRoles(
	ctx context.Context, user *store.User, requirements ...Requirement,
) bool {
	for _, requirement := range requirements {
		satisfied := false

		for _, name := range requirement {
			if a.HasRole(ctx, user, name) {
				satisfied = true

				break
			}
		}

		if !satisfied {
			return false
		}
	}

	return true
}

// hasDirectoryRole resolves a role through the configured group mapping.
func (a *Authorizer) hasDirectoryRole(
	ctx context.Context, user *store.User, role string,
) bool {
	group, ok := a.cfg.RoleGroups[role]
	if !ok || group == "" {
		return false
	}

	if user.Username == nil {
		return false
	}

	member, err := a.dir.IsMember(ctx, *user.Username, group)
	if err != nil {
		if errors.Is(err, directory.ErrUnavailable) {
			metrics.DirectoryUnavailableTotal.Inc()
			a.log.WithError(err).
				WithField("group", group).
				Warn("Directory unavailable during membership check")
		} else {
			a.log.WithError(err).
				WithField("group", group).
				Debug("Membership check failed")
		}

		return false
	}

	return member
}
