package usecases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"token-gate.backend/internal/domain/entities"
)

func TestParseSatisfy(t *testing.T) {
	mode, err := ParseSatisfy("")
	require.NoError(t, err)
	assert.Equal(t, SatisfyAll, mode)

	mode, err = ParseSatisfy("ALL")
	require.NoError(t, err)
	assert.Equal(t, SatisfyAll, mode)

	mode, err = ParseSatisfy("any")
	require.NoError(t, err)
	assert.Equal(t, SatisfyAny, mode)

	_, err = ParseSatisfy("some")
	assert.Error(t, err)
}

func TestSatisfiesAll(t *testing.T) {
	a := NewAuthorizer(testConfig().Scopes)
	claims := entities.Claims{"scope": "exec:admin read:all"}

	assert.True(t, a.Satisfies(claims, []string{"exec:admin"}, SatisfyAll))
	assert.True(t, a.Satisfies(claims, []string{"exec:admin", "read:all"}, SatisfyAll))
	assert.False(t, a.Satisfies(claims, []string{"exec:admin", "exec:test"}, SatisfyAll))
	assert.True(t, a.Satisfies(claims, nil, SatisfyAll))
}

func TestSatisfiesAny(t *testing.T) {
	a := NewAuthorizer(testConfig().Scopes)
	claims := entities.Claims{"scope": "exec:test"}

	assert.True(t, a.Satisfies(claims, []string{"exec:admin", "exec:test"}, SatisfyAny))
	assert.False(t, a.Satisfies(claims, []string{"exec:admin", "read:all"}, SatisfyAny))
	assert.True(t, a.Satisfies(claims, nil, SatisfyAny))
}

func TestGroupDerivedScopes(t *testing.T) {
	a := NewAuthorizer(testConfig().Scopes)
	claims := entities.Claims{
		"scope":      "read:all",
		"isMemberOf": []entities.Group{{Name: "admin", ID: 42}},
	}

	scopes := a.TokenScopes(claims)
	assert.True(t, scopes["read:all"])
	assert.True(t, scopes["exec:admin"], "membership in admin grants exec:admin")
	assert.True(t, a.Satisfies(claims, []string{"exec:admin"}, SatisfyAll))

	// Group membership that maps to nothing grants nothing.
	other := entities.Claims{"isMemberOf": []entities.Group{{Name: "users"}}}
	assert.False(t, a.Satisfies(other, []string{"exec:admin"}, SatisfyAll))
}

func TestGroupsSurviveJSONRoundTrip(t *testing.T) {
	a := NewAuthorizer(testConfig().Scopes)
	// isMemberOf as it looks after JSON decoding.
	claims := entities.Claims{
		"isMemberOf": []interface{}{
			map[string]interface{}{"name": "admin", "id": float64(42)},
		},
	}
	assert.True(t, a.Satisfies(claims, []string{"exec:admin"}, SatisfyAll))
}

func TestScopeList(t *testing.T) {
	list := ScopeList(map[string]bool{"read:all": true, "exec:admin": true})
	assert.Equal(t, []string{"exec:admin", "read:all"}, list)
}
