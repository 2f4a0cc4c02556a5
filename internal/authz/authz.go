// Package authz is the external RBAC collaborator the executor calls
// through an opaque permission-check interface, plus the session tracking
// backing the CLI's .login/.logout/.users meta-commands.
//
// Session tokens reuse google/uuid (already pulled in for generating
// opaque correlation-style ids) rather than rolling a bespoke token
// format.
package authz

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coredb/coredb/internal/dberr"
)

// Operation is one of the kinds the executor authorizes before acting on
// a table.
type Operation string

const (
	OpSelect      Operation = "SELECT"
	OpInsert      Operation = "INSERT"
	OpUpdate      Operation = "UPDATE"
	OpDelete      Operation = "DELETE"
	OpCreateTable Operation = "CREATE_TABLE"
	OpDropTable   Operation = "DROP_TABLE"
	OpCreateIndex Operation = "CREATE_INDEX"
)

// Role is a coarse permission tier. Every authenticated user has exactly
// one role; table ownership (tracked by Catalog, not here) grants
// additional rights over a user's own tables regardless of role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// User is one registered account.
type User struct {
	Name         string
	PasswordHash string
	Role         Role
}

// Session is one active login, addressed by an opaque uuid token.
type Session struct {
	Token     string
	User      string
	CreatedAt time.Time
}

// Registry holds users and active sessions. A single Registry is shared
// by every connection the process serves.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry with a default admin account
// so a freshly created database always has one usable login.
func NewRegistry() *Registry {
	r := &Registry{users: make(map[string]*User), sessions: make(map[string]*Session)}
	r.users["admin"] = &User{Name: "admin", PasswordHash: hashPassword("admin"), Role: RoleAdmin}
	return r
}

// hashPassword is intentionally simple: password storage hardening is
// outside this specification's scope (no external collaborator for it is
// named), but cleartext storage is still avoided.
func hashPassword(pw string) string {
	h := uint64(14695981039346656037)
	for i := 0; i < len(pw); i++ {
		h ^= uint64(pw[i])
		h *= 1099511628211
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(h), byte(h >> 8), byte(h >> 16), byte(h >> 24)}).String()
}

// CreateUser registers a new account.
func (r *Registry) CreateUser(name, password string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[name]; exists {
		return dberr.New(dberr.ConstraintViolation, "user %q already exists", name)
	}
	r.users[name] = &User{Name: name, PasswordHash: hashPassword(password), Role: role}
	return nil
}

// Login validates credentials and issues a new session token.
func (r *Registry) Login(name, password string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[name]
	if !ok || u.PasswordHash != hashPassword(password) {
		return Session{}, dberr.New(dberr.PermissionDenied, "invalid credentials for %q", name)
	}
	sess := Session{Token: uuid.NewString(), User: name, CreatedAt: time.Now()}
	r.sessions[sess.Token] = &sess
	return sess, nil
}

// Logout invalidates a session token.
func (r *Registry) Logout(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return dberr.New(dberr.NotFound, "session not found")
	}
	delete(r.sessions, token)
	return nil
}

// WhoAmI resolves a session token to its user name.
func (r *Registry) WhoAmI(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	if !ok {
		return "", false
	}
	return s.User, true
}

// ListUsers returns every registered user name and role, for the .users
// meta-command.
func (r *Registry) ListUsers() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out
}

// OwnerLookup is the ownership query Checker consults (IsTableOwner);
// Catalog is the source of truth for ownership, so Checker takes it as a
// dependency rather than this package duplicating it.
type OwnerLookup interface {
	IsTableOwner(table, user string) bool
}

// Checker implements the executor's authorization hook: given
// (current_user, operation, table_name), decide whether the call is
// allowed. Matches "the executor treats the decision as
// opaque".
type Checker struct {
	registry *Registry
	owners   OwnerLookup
}

// NewChecker builds a Checker over a Registry and a Catalog-like owner
// lookup.
func NewChecker(registry *Registry, owners OwnerLookup) *Checker {
	return &Checker{registry: registry, owners: owners}
}

// Allow implements the authorization decision: admins may do anything;
// writers may read/write/create/drop only their own tables (or any table
// for SELECT); readers may only SELECT.
func (c *Checker) Allow(user string, op Operation, table string) bool {
	c.registry.mu.RLock()
	u, ok := c.registry.users[user]
	c.registry.mu.RUnlock()
	if !ok {
		return false
	}
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleWriter:
		if op == OpSelect || op == OpCreateTable {
			return true
		}
		return table == "" || c.owners.IsTableOwner(table, user)
	case RoleReader:
		return op == OpSelect
	default:
		return false
	}
}
