package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/dashborion/pkg/permissions"
)

func testIdentity() Identity {
	return Identity{
		UserID:      "user@example.com",
		Email:       "user@example.com",
		DisplayName: "Example User",
		Groups:      []string{"dashborion-acme-operator", "all-employees"},
		MFAVerified: true,
	}
}

func TestManagerCreate(t *testing.T) {
	m := NewManager(8*time.Hour, "dashborion-")
	s := m.Create(testIdentity(), "10.1.2.3")

	assert.Equal(t, "user@example.com", s.UserID)
	assert.Equal(t, "user@example.com", s.Email)
	assert.Equal(t, "Example User", s.DisplayName)
	assert.Equal(t, []string{"dashborion-acme-operator", "all-employees"}, s.Groups)
	assert.Equal(t, "10.1.2.3", s.IPAddress)
	assert.True(t, s.MFAVerified)
	assert.NotEmpty(t, s.SessionID)

	assert.Equal(t, s.IssuedAt.Add(8*time.Hour), s.ExpiresAt)
	assert.True(t, s.IsValid())

	assert.Equal(t, []permissions.Role{permissions.RoleOperator}, s.Roles)
	assert.Equal(t, []permissions.ProjectPermission{
		{Project: "acme", Environment: "*", Role: permissions.RoleOperator, Resources: []string{"*"}},
	}, s.Permissions)
}

func TestManagerCreateUniqueSessionIDs(t *testing.T) {
	m := NewManager(time.Hour, "dashborion-")
	a := m.Create(testIdentity(), "10.1.2.3")
	b := m.Create(testIdentity(), "10.1.2.3")
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestManagerCreateNoMatchingGroups(t *testing.T) {
	m := NewManager(time.Hour, "dashborion-")
	id := testIdentity()
	id.Groups = []string{"all-employees", "vpn-users"}

	s := m.Create(id, "10.1.2.3")
	assert.Empty(t, s.Permissions)
	assert.Empty(t, s.Roles)
}

func TestSessionIsValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "future expiry", expiresAt: now.Add(time.Hour), want: true},
		{name: "past expiry", expiresAt: now.Add(-time.Second), want: false},
		{name: "long past", expiresAt: now.Add(-24 * time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, s.IsValid())
		})
	}
}
