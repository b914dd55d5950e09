package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/go-ldap/ldap/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable is returned when the directory service cannot be
	// reached. Callers degrade it to a denied outcome but may log it
	// distinctly from a credential failure.
	ErrUnavailable = errors.New("directory unavailable")

	// ErrNotFound is returned when an entry or attribute does not exist.
	ErrNotFound = errors.New("directory entry not found")
)

// Directory verifies identities and resolves group membership against an
// external LDAP service.
type Directory interface {
	// Bind authenticates as the given user. Every call uses a fresh
	// connection; the cached service connection is never used for
	// principal binds.
	Bind(ctx context.Context, username, password string) error

	// LookupAttribute fetches a single-valued attribute of the user's
	// entry via the service connection.
	LookupAttribute(ctx context.Context, username, attribute string) (string, error)

	// IsMember reports whether the user is listed as a member of the
	// named group. A missing or empty group is not an error.
	IsMember(ctx context.Context, username, group string) (bool, error)

	// Close releases the cached service connection.
	Close()
}

// Conn is the subset of *ldap.Conn the client depends on. Extracted so
// tests can substitute a fake directory server.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(d time.Duration)
	Close() error
}

// DialFunc opens a connection to the directory host.
type DialFunc func(host string) (Conn, error)

func defaultDial(host string) (Conn, error) {
	return ldap.DialURL(host)
}

// Compile-time interface check.
var _ Directory = (*client)(nil)

type client struct {
	log  logrus.FieldLogger
	cfg  *config.DirectoryConfig
	dial DialFunc

	// svc is the lazily-dialed service-level connection, bound as the
	// configured service account. It is reused across lookups and
	// dropped on error. Principal binds never touch it.
	mu  sync.Mutex
	svc Conn
}

// NewClient creates a directory client from the given config.
func NewClient(
	log logrus.FieldLogger,
	cfg *config.DirectoryConfig,
) Directory {
	return NewClientWithDialer(log, cfg, defaultDial)
}

// NewClientWithDialer creates a directory client with a custom dialer.
func NewClientWithDialer(
	log logrus.FieldLogger,
	cfg *config.DirectoryConfig,
	dial DialFunc,
) Directory {
	return &client{
		log:  log.WithField("component", "directory"),
		cfg:  cfg,
		dial: dial,
	}
}

// Bind attempts to authenticate as username with the given password.
func (c *client) Bind(
	_ context.Context, username, password string,
) error {
	conn, err := c.dial(c.cfg.Host)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrUnavailable, c.cfg.Host, err)
	}

	defer func() { _ = conn.Close() }()

	conn.SetTimeout(c.cfg.TimeoutDuration())

	if err := conn.Bind(c.userDN(username), password); err != nil {
		return fmt.Errorf("binding as %q: %w", username, err)
	}

	return nil
}

// LookupAttribute returns a single-valued attribute of the user's entry.
func (c *client) LookupAttribute(
	_ context.Context, username, attribute string,
) (string, error) {
	req := c.searchRequest(
		c.userDN(username),
		c.cfg.UserObjectClass,
		attribute,
	)

	result, err := c.search(req)
	if err != nil {
		return "", err
	}

	if len(result.Entries) < 1 {
		return "", fmt.Errorf("user %q: %w", username, ErrNotFound)
	}

	value := result.Entries[0].GetAttributeValue(attribute)
	if value == "" {
		return "", fmt.Errorf(
			"attribute %q of user %q: %w", attribute, username, ErrNotFound,
		)
	}

	return value, nil
}

// IsMember reports whether username is listed in the group's member
// attribute.
func (c *client) IsMember(
	_ context.Context, username, group string,
) (bool, error) {
	req := c.searchRequest(
		c.groupDN(group),
		c.cfg.GroupObjectClass,
		c.cfg.MemberAttribute,
	)

	result, err := c.search(req)
	if err != nil {
		return false, err
	}

	if len(result.Entries) < 1 {
		return false, nil
	}

	for _, member := range result.Entries[0].GetAttributeValues(
		c.cfg.MemberAttribute,
	) {
		if member == username {
			return true, nil
		}
	}

	return false, nil
}

// Close releases the cached service connection.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.svc != nil {
		_ = c.svc.Close()
		c.svc = nil
	}
}

// search runs a request on the service connection, dropping the cached
// connection on failure so the next call re-dials.
func (c *client) search(
	req *ldap.SearchRequest,
) (*ldap.SearchResult, error) {
	conn, err := c.serviceConn()
	if err != nil {
		return nil, err
	}

	result, err := conn.Search(req)
	if err != nil {
		c.dropServiceConn()

		return nil, fmt.Errorf("%w: searching %s: %v", ErrUnavailable, req.BaseDN, err)
	}

	return result, nil
}

// serviceConn returns the cached service-level connection, dialing and
// binding as the service account when needed.
func (c *client) serviceConn() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.svc != nil {
		return c.svc, nil
	}

	conn, err := c.dial(c.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrUnavailable, c.cfg.Host, err)
	}

	conn.SetTimeout(c.cfg.TimeoutDuration())

	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("%w: service bind: %v", ErrUnavailable, err)
	}

	c.svc = conn

	return conn, nil
}

func (c *client) dropServiceConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.svc != nil {
		_ = c.svc.Close()
		c.svc = nil
	}
}

// searchRequest builds a subtree search rooted at baseDN filtered by
// object class, fetching a single attribute.
func (c *client) searchRequest(
	baseDN, objectClass, attribute string,
) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(c.cfg.TimeoutDuration().Seconds()),
		false,
		fmt.Sprintf("(objectclass=%s)", ldap.EscapeFilter(objectClass)),
		[]string{attribute},
		nil,
	)
}

// userDN builds the distinguished name of a user entry.
func (c *client) userDN(username string) string {
	return fmt.Sprintf(
		"%s=%s,%s",
		c.cfg.UsernameAttribute,
		ldap.EscapeDN(username),
		c.cfg.UserBase,
	)
}

// groupDN builds the distinguished name of a group entry.
func (c *client) groupDN(group string) string {
	return fmt.Sprintf(
		"%s=%s,%s",
		c.cfg.GroupAttribute,
		ldap.EscapeDN(group),
		c.cfg.GroupBase,
	)
}
