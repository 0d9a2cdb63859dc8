package permissions_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/internal/types"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/permissions"
	"github.com/constructa/listquery/listing/schema"
)

const testSchema = "../schema/testdata/schema.yaml"

func TestRoleTable_Authorize(t *testing.T) {
	table, err := permissions.LoadFile(testSchema)
	require.NoError(t, err)
	ctx := context.Background()

	buyer := &types.UserContext{Username: "buyer@example.com", SystemRole: types.UserRole, Roles: []string{"Purchase User"}}
	manager := &types.UserContext{Username: "lead@example.com", SystemRole: types.UserRole, Roles: []string{"Purchase Manager"}}
	outsider := &types.UserContext{Username: "site@example.com", SystemRole: types.UserRole, Roles: []string{"Site Engineer"}}

	t.Run("RestrictedRole", func(t *testing.T) {
		clause, err := table.Authorize(ctx, buyer, "Order")
		require.NoError(t, err)
		assert.Equal(t, &models.FilterClause{Field: "owner", Operator: "=", Value: "buyer@example.com"}, clause)
	})

	t.Run("PrivilegedRole", func(t *testing.T) {
		clause, err := table.Authorize(ctx, manager, "Order")
		require.NoError(t, err)
		assert.Nil(t, clause)
	})

	t.Run("RuleWithoutRestriction", func(t *testing.T) {
		clause, err := table.Authorize(ctx, buyer, "Supplier")
		require.NoError(t, err)
		assert.Nil(t, clause)
	})

	t.Run("MissingRole", func(t *testing.T) {
		_, err := table.Authorize(ctx, outsider, "Order")
		assert.True(t, errors.Is(err, listingErrors.ErrPermissionDenied))
	})

	t.Run("EntityWithoutRule", func(t *testing.T) {
		_, err := table.Authorize(ctx, buyer, "Invoice")
		assert.True(t, errors.Is(err, listingErrors.ErrPermissionDenied))
	})

	t.Run("AdminAndSystemAreUnrestricted", func(t *testing.T) {
		for _, role := range []string{types.AdminRole, types.SystemRole} {
			clause, err := table.Authorize(ctx, &types.UserContext{SystemRole: role}, "Invoice")
			require.NoError(t, err)
			assert.Nil(t, clause)
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		_, err := table.Authorize(ctx, nil, "Order")
		assert.True(t, errors.Is(err, listingErrors.ErrMissingUserContext))
	})

	t.Run("UserIDWhenNoUsername", func(t *testing.T) {
		id := uuid.Must(uuid.NewV4())
		clause, err := table.Authorize(ctx, &types.UserContext{UserID: id, Roles: []string{"Purchase User"}}, "Order")
		require.NoError(t, err)
		assert.Equal(t, id.String(), clause.Value)
	})
}

func TestRoleTable_Validate(t *testing.T) {
	reg, err := schema.LoadFile(testSchema)
	require.NoError(t, err)

	table, err := permissions.LoadFile(testSchema)
	require.NoError(t, err)
	assert.NoError(t, table.Validate(reg))

	bad, err := permissions.Load(strings.NewReader(`
permissions:
  - entity: Order
    restrict_field: assigned_to
`))
	require.NoError(t, err)
	assert.ErrorContains(t, bad.Validate(reg), "assigned_to")

	unknown, err := permissions.NewRoleTable([]permissions.Rule{{Entity: "Invoice"}})
	require.NoError(t, err)
	assert.ErrorContains(t, unknown.Validate(reg), "Invoice")
}

func TestNewRoleTable_Rejects(t *testing.T) {
	_, err := permissions.NewRoleTable([]permissions.Rule{{Entity: "Order"}, {Entity: "Order"}})
	assert.Error(t, err)

	_, err = permissions.NewRoleTable([]permissions.Rule{{Entity: " "}})
	assert.Error(t, err)
}

func TestAllowAll(t *testing.T) {
	clause, err := permissions.AllowAll{}.Authorize(context.Background(), nil, "Order")
	assert.NoError(t, err)
	assert.Nil(t, clause)
}
