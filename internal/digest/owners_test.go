package digest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/domain"
)

func TestResolveMetas(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "p1", "1001", "Alpha")
	seedProject(t, r, "p2", "", "Beta")

	require.NoError(t, r.InsertUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertUser(ctx, domain.User{ID: "u2", Name: "Sam", Email: "sam@example.com", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertMembership(ctx, domain.Membership{ProjectID: "p1", UserID: "u2", Role: "member", CreatedAt: "2026-01-02T00:00:00Z"}))
	require.NoError(t, r.InsertMembership(ctx, domain.Membership{ProjectID: "p1", UserID: "u1", Role: "owner", CreatedAt: "2026-01-02T00:00:00Z"}))

	metas, err := ResolveMetas(ctx, r, []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, metas, 2)

	// owner role outranks plain membership regardless of insert order
	assert.Equal(t, "PRJ-1001", metas["p1"].HumanCode)
	assert.Equal(t, "u1", metas["p1"].OwnerUserID)
	assert.Equal(t, "Dana", metas["p1"].OwnerName)
	assert.Equal(t, "dana@example.com", metas["p1"].OwnerEmail)

	// no code falls back to the canonical id, no members means no owner
	assert.Equal(t, "p2", metas["p2"].HumanCode)
	assert.Empty(t, metas["p2"].OwnerUserID)
}

func TestResolveMetasEmptyInput(t *testing.T) {
	r := newTestRepo(t)
	metas, err := ResolveMetas(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Empty(t, metas)
}
