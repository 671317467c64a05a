package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	n := Default()
	assert.Equal(t, "User", n.TableName([]string{"User"}))
	assert.Equal(t, "User_Profile", n.TableName([]string{"User", "Profile"}))

	plural := New(Config{PluralizeTables: true, PluralOverrides: map[string]string{"person": "folks"}}, nil)
	assert.Equal(t, "users", plural.TableName([]string{"User"}))
	assert.Equal(t, "folks", plural.TableName([]string{"Person"}))
	assert.Equal(t, "user_profiles", plural.TableName([]string{"User", "Profile"}))
}

func TestColumnNames(t *testing.T) {
	n := Default()
	assert.Equal(t, "User_id", n.IDColumn("User"))
	assert.Equal(t, "User_name", n.ValueColumn("User", "name"))
	assert.Equal(t, "Membership_target", n.LinkColumn("Membership", "target"))
	assert.Equal(t, "User_leader", n.Alias("User", "leader"))
	assert.Equal(t, "User_friends_LINK", n.Alias("User", "friends", "LINK"))
}

func TestShortenIsStableAndBounded(t *testing.T) {
	n := New(Config{MaxIdentifierLength: 20}, nil)
	long := strings.Repeat("a", 30)
	first := n.Shorten(long)
	assert.Len(t, first, 20)
	assert.Equal(t, first, n.Shorten(long))
	assert.NotEqual(t, first, n.Shorten(strings.Repeat("a", 29)+"b"))
	assert.Equal(t, "short", n.Shorten("short"))
}

func TestIndexNameCollisionGetsSuffix(t *testing.T) {
	n := New(Config{MaxIdentifierLength: 64}, nil)
	first := n.IndexName("t", "c")
	second := n.IndexName("t", "c")
	assert.Equal(t, "idx_t_c", first)
	assert.Equal(t, "idx_t_c2", second)
}

func TestClaimDetectsCollision(t *testing.T) {
	r := NewCollisionResolver(nil)
	_, ok := r.Claim("User", "User_a_b", "User.a_b")
	assert.True(t, ok)
	existing, ok := r.Claim("User", "User_a_b", "User_a.b")
	assert.False(t, ok)
	assert.Equal(t, "User.a_b", existing)
	_, ok = r.Claim("Other", "User_a_b", "x")
	assert.True(t, ok)
}

func TestReservedAttributes(t *testing.T) {
	assert.True(t, IsReservedAttribute("id", false))
	assert.True(t, IsReservedAttribute("&", false))
	assert.True(t, IsReservedAttribute("_rowId", false))
	assert.True(t, IsReservedAttribute("a.b", false))
	assert.False(t, IsReservedAttribute("source", false))
	assert.True(t, IsReservedAttribute("source", true))
	assert.True(t, IsReservedRecordName("_IDS_"))
	assert.False(t, IsReservedRecordName("User"))
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "user_profile", toSnakeCase("UserProfile"))
	assert.Equal(t, "http_server", toSnakeCase("HTTPServer"))
	assert.Equal(t, "already_snake", toSnakeCase("already_snake"))
}
