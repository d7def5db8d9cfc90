package devicecode

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/token"
)

func testService(store Store) *Service {
	return NewService(store, Config{
		CodeTTL:         10 * time.Minute,
		PollInterval:    5 * time.Second,
		TokenTTL:        time.Hour,
		VerificationURL: "https://dashboard.example.com/device",
	}, observability.NewLogger(observability.ErrorLevel, io.Discard), observability.NewMetrics(prometheus.NewRegistry()))
}

func TestInitiate(t *testing.T) {
	store := NewMemoryStore()
	svc := testService(store)
	ctx := context.Background()

	grant, err := svc.Initiate(ctx)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[A-HJ-NP-TV-Z2-9]{4}-[A-HJ-NP-TV-Z2-9]{4}$`), grant.UserCode)
	assert.NotContains(t, grant.UserCode, "0")
	assert.NotContains(t, grant.UserCode, "O")
	assert.NotContains(t, grant.UserCode, "1")
	assert.NotContains(t, grant.UserCode, "I")
	assert.NotEmpty(t, grant.DeviceCode)
	assert.Equal(t, 600, grant.ExpiresIn)
	assert.Equal(t, 5, grant.Interval)
	assert.Equal(t, "https://dashboard.example.com/device", grant.VerificationURL)

	// only the hash is at rest
	_, err = store.GetByDeviceHash(ctx, grant.DeviceCode)
	assert.ErrorIs(t, err, ErrNotFound)
	code, err := store.GetByDeviceHash(ctx, token.Hash(grant.DeviceCode))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, code.Status)
}

func TestFullApprovalFlow(t *testing.T) {
	store := NewMemoryStore()
	svc := testService(store)
	ctx := context.Background()

	grant, err := svc.Initiate(ctx)
	require.NoError(t, err)

	// poll before approval keeps the client waiting
	_, err = svc.Poll(ctx, grant.DeviceCode)
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	require.NoError(t, svc.Verify(ctx, grant.UserCode, "user@example.com"))

	tokens, err := svc.Poll(ctx, grant.DeviceCode)
	require.NoError(t, err)
	assert.Regexp(t, `^dash_`, tokens.AccessToken)
	assert.Regexp(t, `^dash_`, tokens.RefreshToken)
	assert.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, 3600, tokens.ExpiresIn)

	// token hashes were persisted
	assert.True(t, store.HasToken(token.Hash(tokens.AccessToken)))
	assert.True(t, store.HasToken(token.Hash(tokens.RefreshToken)))

	// one-time use: the second poll is terminal
	_, err = svc.Poll(ctx, grant.DeviceCode)
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestVerifyUnknownCode(t *testing.T) {
	svc := testService(NewMemoryStore())
	err := svc.Verify(context.Background(), "AAAA-BBBB", "user@example.com")
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestVerifyExpiredCode(t *testing.T) {
	store := NewMemoryStore()
	svc := testService(store)
	ctx := context.Background()

	grant, err := svc.Initiate(ctx)
	require.NoError(t, err)

	// age the record past its lifetime
	code, err := store.GetByUserCode(ctx, grant.UserCode)
	require.NoError(t, err)
	code.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.SaveCode(ctx, code))

	err = svc.Verify(ctx, grant.UserCode, "user@example.com")
	assert.ErrorIs(t, err, ErrCodeExpired)

	_, err = svc.Poll(ctx, grant.DeviceCode)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyTwiceRejected(t *testing.T) {
	svc := testService(NewMemoryStore())
	ctx := context.Background()

	grant, err := svc.Initiate(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, grant.UserCode, "first@example.com"))
	err = svc.Verify(ctx, grant.UserCode, "second@example.com")
	assert.ErrorIs(t, err, ErrCodeConsumed)

	// approval sticks with the first user
	code, err := svc.store.GetByUserCode(ctx, grant.UserCode)
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", code.ApprovedBy)
}

func TestApprovalAfterExpiryNeverIssuesTokens(t *testing.T) {
	store := NewMemoryStore()
	svc := testService(store)
	ctx := context.Background()

	grant, err := svc.Initiate(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, grant.UserCode, "user@example.com"))

	// expire between approval and pickup
	code, err := store.GetByDeviceHash(ctx, token.Hash(grant.DeviceCode))
	require.NoError(t, err)
	code.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.SaveCode(ctx, code))

	_, err = svc.Poll(ctx, grant.DeviceCode)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestPollUnknownCode(t *testing.T) {
	svc := testService(NewMemoryStore())
	_, err := svc.Poll(context.Background(), "dash_nonexistent")
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		code Code
		want Status
	}{
		{name: "pending live", code: Code{Status: StatusPending, ExpiresAt: now.Add(time.Minute)}, want: StatusPending},
		{name: "pending aged out", code: Code{Status: StatusPending, ExpiresAt: now.Add(-time.Minute)}, want: StatusExpired},
		{name: "approved live", code: Code{Status: StatusApproved, ExpiresAt: now.Add(time.Minute)}, want: StatusApproved},
		{name: "approved aged out", code: Code{Status: StatusApproved, ExpiresAt: now.Add(-time.Minute)}, want: StatusExpired},
		{name: "consumed stays consumed", code: Code{Status: StatusConsumed, ExpiresAt: now.Add(-time.Minute)}, want: StatusConsumed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.EffectiveStatus(now))
		})
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	live := &Code{DeviceCodeHash: "live", UserCode: "AAAA-AAAA", Status: StatusPending, ExpiresAt: time.Now().Add(time.Minute)}
	stale := &Code{DeviceCodeHash: "stale", UserCode: "BBBB-BBBB", Status: StatusPending, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.SaveCode(ctx, live))
	require.NoError(t, store.SaveCode(ctx, stale))

	swept, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = store.GetByDeviceHash(ctx, "live")
	assert.NoError(t, err)
	_, err = store.GetByDeviceHash(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByUserCode(ctx, "BBBB-BBBB")
	assert.ErrorIs(t, err, ErrNotFound)
}
