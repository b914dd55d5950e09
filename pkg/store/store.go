package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a create collides with a unique key.
	ErrConflict = errors.New("record already exists")
)

// Store provides persistence for users, roles, API keys, and sessions.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// User CRUD.
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id uint) error
	SetUserRoles(ctx context.Context, user *User, roleNames []string) error
	FindOrCreateUser(ctx context.Context, user *User) (*User, error)

	// Role CRUD. Role deletion is intentionally absent.
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	FindOrCreateRole(ctx context.Context, name, label string) (*Role, error)

	// API key CRUD. Keys are never mutated after creation.
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID uint) ([]APIKey, error)
	CreateAPIKey(ctx context.Context, key *APIKey) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Session CRUD.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionByID(ctx context.Context, id uint) error
	DeleteExpiredSessions(ctx context.Context) error

	// Seeding from config.
	SeedRoles(ctx context.Context, roles []config.SeedRole) error
	SeedUsers(ctx context.Context, users []config.SeedUser) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB

	// afterLookupMiss runs between a find-or-create lookup miss and the
	// insert attempt. Lets tests interleave a competing writer; nil
	// outside tests.
	afterLookupMiss func()
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	// TranslateError is required so unique-key collisions surface as
	// gorm.ErrDuplicatedKey on every driver.
	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Role{},
		&APIKey{},
		&Session{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// translate maps gorm sentinel errors onto the store's taxonomy.
func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

// --- User CRUD ---

func (s *store) GetUserByID(
	ctx context.Context, id uint,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Preload("Roles").
		First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("getting user by id: %w", translate(err))
	}

	return &user, nil
}

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Preload("Roles").
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", translate(err))
	}

	return &user, nil
}

func (s *store) GetUserByEmail(
	ctx context.Context, email string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Preload("Roles").
		Where("email = ?", email).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by email: %w", translate(err))
	}

	return &user, nil
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Preload("Roles").
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return users, nil
}

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", translate(err))
	}

	return nil
}

func (s *store) UpdateUser(ctx context.Context, user *User) error {
	// Omit the role association: role edits go through SetUserRoles so
	// that stale preloaded slices cannot silently rewrite memberships.
	if err := s.db.WithContext(ctx).
		Omit("Roles").
		Save(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", translate(err))
	}

	return nil
}

// DeleteUser removes a user along with its role links, API keys, and
// sessions in one transaction. Returns ErrNotFound when no such user
// exists.
func (s *store) DeleteUser(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := User{ID: id}

		if err := tx.Model(&user).
			Association("Roles").Clear(); err != nil {
			return fmt.Errorf("clearing role links: %w", err)
		}

		if err := tx.Where("user_id = ?", id).
			Delete(&APIKey{}).Error; err != nil {
			return fmt.Errorf("deleting api keys: %w", err)
		}

		if err := tx.Where("user_id = ?", id).
			Delete(&Session{}).Error; err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}

		result := tx.Delete(&User{}, id)
		if result.Error != nil {
			return fmt.Errorf("deleting user: %w", result.Error)
		}

		// Zero affected rows is not an error to gorm.
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}

	return nil
}

// SetUserRoles replaces the user's role set with the named roles. Roles
// that do not exist yet are created; the association swap is
// transactional.
func (s *store) SetUserRoles(
	ctx context.Context, user *User, roleNames []string,
) error {
	roles := make([]Role, 0, len(roleNames))

	for _, name := range roleNames {
		role, err := s.FindOrCreateRole(ctx, name, "")
		if err != nil {
			return fmt.Errorf("resolving role %q: %w", name, err)
		}

		roles = append(roles, *role)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(user).Association("Roles").Replace(roles)
	})
	if err != nil {
		return fmt.Errorf("setting user roles: %w", err)
	}

	user.Roles = roles

	return nil
}

// FindOrCreateUser returns the existing user matching the candidate's
// username (or email when no username is set), creating it when absent.
// A unique-key collision on insert means another writer won the race; the
// record is re-fetched rather than treated as a failure.
func (s *store) FindOrCreateUser(
	ctx context.Context, user *User,
) (*User, error) {
	lookup := func() (*User, error) {
		if user.Username != nil {
			return s.GetUserByUsername(ctx, *user.Username)
		}

		if user.Email != nil {
			return s.GetUserByEmail(ctx, *user.Email)
		}

		return nil, fmt.Errorf("find-or-create user: %w", ErrNotFound)
	}

	existing, err := lookup()
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if s.afterLookupMiss != nil {
		s.afterLookupMiss()
	}

	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return lookup()
		}

		return nil, err
	}

	return user, nil
}

// --- Role CRUD ---

func (s *store) GetRoleByName(
	ctx context.Context, name string,
) (*Role, error) {
	var role Role
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&role).Error; err != nil {
		return nil, fmt.Errorf("getting role by name: %w", translate(err))
	}

	return &role, nil
}

func (s *store) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	return roles, nil
}

// FindOrCreateRole returns the role with the given name, creating it when
// absent. Safe under concurrent duplicate attempts: a collision on insert
// re-fetches the winner's row.
func (s *store) FindOrCreateRole(
	ctx context.Context, name, label string,
) (*Role, error) {
	role, err := s.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if s.afterLookupMiss != nil {
		s.afterLookupMiss()
	}

	created := &Role{Name: name, Label: label}

	if err := s.db.WithContext(ctx).Create(created).Error; err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return s.GetRoleByName(ctx, name)
		}

		return nil, fmt.Errorf("creating role: %w", err)
	}

	return created, nil
}

// --- API key CRUD ---

func (s *store) GetAPIKey(
	ctx context.Context, id string,
) (*APIKey, error) {
	var key APIKey
	if err := s.db.WithContext(ctx).
		Preload("User.Roles").
		Preload("User").
		Where("id = ?", id).
		First(&key).Error; err != nil {
		return nil, fmt.Errorf("getting api key: %w", translate(err))
	}

	return &key, nil
}

func (s *store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	return keys, nil
}

func (s *store) ListAPIKeysByUser(
	ctx context.Context, userID uint,
) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys by user: %w", err)
	}

	return keys, nil
}

func (s *store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating api key: %w", translate(err))
	}

	return nil
}

func (s *store) DeleteAPIKey(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&APIKey{}).Error; err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}

	return nil
}

// --- Session CRUD ---

func (s *store) CreateSession(
	ctx context.Context, session *Session,
) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", translate(err))
	}

	return nil
}

func (s *store) GetSessionByToken(
	ctx context.Context, token string,
) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, fmt.Errorf("getting session by token: %w", translate(err))
	}

	return &session, nil
}

func (s *store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

func (s *store) UpdateSessionLastActive(
	ctx context.Context, id uint, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Update("last_active_at", t).Error; err != nil {
		return fmt.Errorf("updating session last active: %w", err)
	}

	return nil
}

func (s *store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// DeleteSessionByID revokes a session by primary key. Returns
// ErrNotFound when no such session exists.
func (s *store) DeleteSessionByID(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&Session{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting session by id: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting session %d: %w", id, ErrNotFound)
	}

	return nil
}

func (s *store) DeleteExpiredSessions(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&Session{})
	if result.Error != nil {
		return fmt.Errorf("deleting expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired sessions")
	}

	return nil
}
