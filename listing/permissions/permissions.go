package permissions

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/constructa/listquery/internal/types"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// Service decides whether a user may read an entity type. A non-nil clause
// restricts the records the user sees and is applied like any other filter.
type Service interface {
	Authorize(ctx context.Context, user *types.UserContext, entityType string) (*models.FilterClause, error)
}

// AllowAll grants every read without restriction
type AllowAll struct{}

// Authorize implements Service
func (AllowAll) Authorize(context.Context, *types.UserContext, string) (*models.FilterClause, error) {
	return nil, nil
}

// Rule grants read access on one entity type
type Rule struct {
	Entity string `yaml:"entity"`
	// Roles may read the entity. Empty means any authenticated user.
	Roles []string `yaml:"roles"`
	// RestrictField limits non-privileged users to records whose field
	// equals their username
	RestrictField   string   `yaml:"restrict_field"`
	PrivilegedRoles []string `yaml:"privileged_roles"`
}

// RoleTable is a Service backed by a static rule per entity type.
// Entity types without a rule are denied. Admin and system users read
// everything unrestricted.
type RoleTable struct {
	rules map[string]Rule
}

// NewRoleTable indexes rules by entity type
func NewRoleTable(rules []Rule) (*RoleTable, error) {
	t := &RoleTable{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		r.Entity = strings.TrimSpace(r.Entity)
		if r.Entity == "" {
			return nil, fmt.Errorf("permission rule without entity")
		}
		if _, dup := t.rules[r.Entity]; dup {
			return nil, fmt.Errorf("duplicate permission rule for %q", r.Entity)
		}
		t.rules[r.Entity] = r
	}
	return t, nil
}

type document struct {
	Permissions []Rule `yaml:"permissions"`
}

// Load reads the permissions section of a schema document
func Load(r io.Reader) (*RoleTable, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return NewRoleTable(doc.Permissions)
}

// LoadFile reads the permissions section of the schema file at path
func LoadFile(path string) (*RoleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open permissions %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks every rule against the registry
func (t *RoleTable) Validate(reg *schema.Registry) error {
	for name, r := range t.rules {
		entity, ok := reg.Get(name)
		if !ok {
			return fmt.Errorf("permission rule for unknown entity %q", name)
		}
		if r.RestrictField != "" {
			if _, ok := entity.Field(r.RestrictField); !ok {
				return fmt.Errorf("permission rule for %q: unknown restrict field %q", name, r.RestrictField)
			}
		}
	}
	return nil
}

// Authorize implements Service
func (t *RoleTable) Authorize(_ context.Context, user *types.UserContext, entityType string) (*models.FilterClause, error) {
	if user == nil {
		return nil, listingErrors.ErrMissingUserContext
	}
	if user.HasRole(types.AdminRole) || user.HasRole(types.SystemRole) {
		return nil, nil
	}

	rule, ok := t.rules[entityType]
	if !ok || (len(rule.Roles) > 0 && !hasAny(user, rule.Roles)) {
		return nil, listingErrors.NewPermissionDenied(entityType)
	}

	if rule.RestrictField == "" || hasAny(user, rule.PrivilegedRoles) {
		return nil, nil
	}

	value := user.Username
	if value == "" {
		value = user.UserID.String()
	}
	return &models.FilterClause{Field: rule.RestrictField, Operator: models.OpEquals, Value: value}, nil
}

func hasAny(user *types.UserContext, roles []string) bool {
	for _, r := range roles {
		if user.HasRole(r) {
			return true
		}
	}
	return false
}
