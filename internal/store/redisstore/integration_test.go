//go:build integration

package redisstore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/store"
	"github.com/credit-markets/vitalfi-backend/internal/store/redisstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore returns a connected store for integration tests.
// It checks the TEST_REDIS_URL environment variable first; if unset, an
// ephemeral Redis container is started via testcontainers.
func testStore(t *testing.T) *redisstore.Store {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url != "" {
		st, err := redisstore.New(url, "vitalfi_it", slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}
	// Use testcontainers (Docker-based ephemeral Redis).
	return setupTestContainer(t)
}

func testVault(addr, authority string, status model.VaultStatus, slot int64, updatedAt time.Time) *model.Vault {
	return &model.Vault{
		Address:           addr,
		Authority:         authority,
		AssetMint:         "So11111111111111111111111111111111111111112",
		PayoutATA:         "ata-" + addr,
		Capacity:          "1000000000",
		Deposited:         "250000000",
		Claimed:           "0",
		PayoutNumerator:   105,
		PayoutDenominator: 100,
		Status:            status,
		Slot:              slot,
		CreatedAt:         updatedAt.Add(-time.Hour).UTC(),
		UpdatedAt:         updatedAt.UTC(),
	}
}

func testPosition(addr, vault, owner string, status model.VaultStatus, slot int64, updatedAt time.Time) *model.Position {
	return &model.Position{
		Address:   addr,
		Vault:     vault,
		Owner:     owner,
		Deposited: "50000000",
		Claimed:   "0",
		Status:    status,
		Slot:      slot,
		CreatedAt: updatedAt.Add(-time.Hour).UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
}

// ---------- Subjects ----------

func TestApplyPlan_VaultRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	authority := "auth-" + uuid.NewString()[:8]
	addr := "vault-" + uuid.NewString()[:8]
	updatedAt := time.Now().Truncate(time.Second)

	plan := &store.MutationPlan{}
	plan.AddVault(testVault(addr, authority, model.StatusFunding, 1000, updatedAt), nil)
	require.NoError(t, st.ApplyPlan(ctx, plan))

	found, err := st.GetVault(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, addr, found.Address)
	assert.Equal(t, authority, found.Authority)
	assert.Equal(t, "250000000", found.Deposited)
	assert.Equal(t, model.StatusFunding, found.Status)
	assert.Equal(t, int64(1000), found.Slot)

	// Legacy membership set and ordered index updated in the same plan.
	members, err := st.Members(ctx, st.Keys().VaultsByAuthority(authority))
	require.NoError(t, err)
	assert.Contains(t, members, addr)

	res, err := st.RevRangeByScore(ctx, st.Keys().VaultsByAuthorityIndex(authority), nil, 10)
	require.NoError(t, err)
	assert.True(t, res.IndexBuilt)
	require.Len(t, res.Members, 1)
	assert.Equal(t, addr, res.Members[0].Member)
	assert.Equal(t, updatedAt.Unix(), res.Members[0].Score)
}

func TestApplyPlan_StatusMoveLeavesSingleStatusIndex(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	authority := "auth-" + uuid.NewString()[:8]
	addr := "vault-" + uuid.NewString()[:8]
	base := time.Now().Truncate(time.Second)

	first := &store.MutationPlan{}
	first.AddVault(testVault(addr, authority, model.StatusFunding, 1000, base), nil)
	require.NoError(t, st.ApplyPlan(ctx, first))

	prev := model.StatusFunding
	second := &store.MutationPlan{}
	second.AddVault(testVault(addr, authority, model.StatusActive, 1001, base.Add(time.Minute)), &prev)
	require.NoError(t, st.ApplyPlan(ctx, second))

	fundingIdx, err := st.RevRangeByScore(ctx, st.Keys().VaultsByAuthorityStatusIndex(authority, model.StatusFunding), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, fundingIdx.Members)

	activeIdx, err := st.RevRangeByScore(ctx, st.Keys().VaultsByAuthorityStatusIndex(authority, model.StatusActive), nil, 10)
	require.NoError(t, err)
	require.Len(t, activeIdx.Members, 1)
	assert.Equal(t, addr, activeIdx.Members[0].Member)
}

func TestApplyPlan_PositionRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	owner := "owner-" + uuid.NewString()[:8]
	vault := "vault-" + uuid.NewString()[:8]
	addr := "pos-" + uuid.NewString()[:8]
	updatedAt := time.Now().Truncate(time.Second)

	plan := &store.MutationPlan{}
	plan.AddPosition(testPosition(addr, vault, owner, model.StatusActive, 2000, updatedAt), nil)
	require.NoError(t, st.ApplyPlan(ctx, plan))

	found, err := st.GetPosition(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, vault, found.Vault)
	assert.Equal(t, owner, found.Owner)

	// Batch hydration drops addresses with no record instead of erroring.
	batch, err := st.GetPositions(ctx, []string{addr, "pos-missing-" + uuid.NewString()[:8]})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, addr, batch[0].Address)
}

func TestGetVault_MissingReturnsNil(t *testing.T) {
	st := testStore(t)

	found, err := st.GetVault(context.Background(), "vault-missing-"+uuid.NewString()[:8])
	require.NoError(t, err)
	assert.Nil(t, found)
}

// ---------- Activities ----------

func TestCreateActivity_Idempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	sig := "sig-" + uuid.NewString()[:8]
	key := st.Keys().Activity(sig, model.ActivityDeposit, 3000)
	act := &model.Activity{
		Signature: sig,
		Slot:      3000,
		Type:      model.ActivityDeposit,
		Vault:     "vault-" + uuid.NewString()[:8],
		Amount:    "50000000",
	}

	created, err := st.CreateActivity(ctx, key, act, 0)
	require.NoError(t, err)
	assert.True(t, created)

	// Redelivery lands on the same key and must not create a duplicate.
	created, err = st.CreateActivity(ctx, key, act, 0)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := st.GetActivities(ctx, []string{key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sig, got[0].Signature)
	assert.Equal(t, model.ActivityDeposit, got[0].Type)
	assert.Equal(t, "50000000", got[0].Amount)
}

func TestAddToTimelines_FanOut(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	subject := st.Keys().SubjectTimeline("vault-" + uuid.NewString()[:8])
	wallet := st.Keys().WalletTimeline("owner-" + uuid.NewString()[:8])

	require.NoError(t, st.AddToTimelines(ctx, "entry-1", 100, subject, wallet))

	for _, key := range []string{subject, wallet} {
		res, err := st.RevRangeByScore(ctx, key, nil, 10)
		require.NoError(t, err)
		require.Len(t, res.Members, 1)
		assert.Equal(t, "entry-1", res.Members[0].Member)
		assert.Equal(t, int64(100), res.Members[0].Score)
	}
}

// ---------- Ordered indices ----------

func TestRevRangeByScore_CursorPagesNewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	key := st.Keys().SubjectTimeline("vault-" + uuid.NewString()[:8])
	require.NoError(t, st.AddToTimelines(ctx, "old", 100, key))
	require.NoError(t, st.AddToTimelines(ctx, "mid", 200, key))
	require.NoError(t, st.AddToTimelines(ctx, "new", 300, key))

	page1, err := st.RevRangeByScore(ctx, key, nil, 2)
	require.NoError(t, err)
	require.Len(t, page1.Members, 2)
	assert.Equal(t, "new", page1.Members[0].Member)
	assert.Equal(t, "mid", page1.Members[1].Member)

	// The cursor is exclusive: the next page starts strictly below it.
	cursor := page1.Members[1].Score
	page2, err := st.RevRangeByScore(ctx, key, &cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Members, 1)
	assert.Equal(t, "old", page2.Members[0].Member)
}

func TestRevRangeByScore_MissingIndexReportsUnbuilt(t *testing.T) {
	st := testStore(t)

	res, err := st.RevRangeByScore(context.Background(), st.Keys().VaultsByAuthorityIndex("auth-missing-"+uuid.NewString()[:8]), nil, 10)
	require.NoError(t, err)
	assert.False(t, res.IndexBuilt)
	assert.Empty(t, res.Members)
}
