package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/authoor/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

// DefaultRoles are provisioned on every start so that authorization
// checks and the admin console have a baseline to work with.
var DefaultRoles = []config.SeedRole{
	{Name: "admin", Label: "Administrator"},
	{Name: "dev", Label: "Developer"},
	{Name: "user", Label: "User"},
}

// SeedRoles provisions the default roles plus any configured ones.
// Find-or-create semantics: concurrent seeders converge on one row per
// role name.
func (s *store) SeedRoles(
	ctx context.Context, roles []config.SeedRole,
) error {
	all := append(append([]config.SeedRole{}, DefaultRoles...), roles...)

	for _, r := range all {
		if _, err := s.FindOrCreateRole(ctx, r.Name, r.Label); err != nil {
			return fmt.Errorf("seeding role %q: %w", r.Name, err)
		}
	}

	return nil
}

// SeedUsers provisions config-defined users. Existing users are left
// untouched; only missing accounts are created.
func (s *store) SeedUsers(
	ctx context.Context, users []config.SeedUser,
) error {
	for _, u := range users {
		hash := ""

		if u.Password != "" {
			h, err := bcrypt.GenerateFromPassword(
				[]byte(u.Password), bcrypt.DefaultCost,
			)
			if err != nil {
				return fmt.Errorf("hashing password for %q: %w", u.Username, err)
			}

			hash = string(h)
		}

		now := time.Now().UTC()

		candidate := &User{
			PasswordHash:     hash,
			Active:           true,
			EmailConfirmedAt: &now,
			FirstName:        u.FirstName,
			LastName:         u.LastName,
		}

		if u.Username != "" {
			username := u.Username
			candidate.Username = &username
		}

		if u.Email != "" {
			email := u.Email
			candidate.Email = &email
		}

		user, err := s.FindOrCreateUser(ctx, candidate)
		if err != nil {
			return fmt.Errorf("seeding user %q: %w", u.Username, err)
		}

		// Only grant roles to freshly created accounts; admin-managed
		// role edits must survive restarts.
		if user == candidate && len(u.Roles) > 0 {
			if err := s.SetUserRoles(ctx, user, u.Roles); err != nil {
				return fmt.Errorf("granting roles to %q: %w", u.Username, err)
			}
		}
	}

	if len(users) > 0 {
		s.log.WithField("count", len(users)).
			Info("Seeded users from config")
	}

	return nil
}
