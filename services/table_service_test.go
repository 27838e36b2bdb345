package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

func newTestTableService(t *testing.T, clock *fakeClock) *TableService {
	t.Helper()
	slugs, err := utils.NewSlugEncoder("test-salt", 6)
	require.NoError(t, err)
	svc := NewTableService(newTestDB(t), slugs, "https://order.example/")
	svc.Now = clock.Now
	return svc
}

func TestEnsureTableCreatesOnceWithSlug(t *testing.T) {
	svc := newTestTableService(t, newFakeClock())
	ctx := context.Background()

	first, err := svc.EnsureTable(ctx, EnsureTableInput{Label: "A1"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.Table.IsActive)
	assert.True(t, first.Table.ExclusiveSession)
	assert.GreaterOrEqual(t, len(first.Table.Slug), 6)
	assert.Equal(t, "https://order.example/s/"+first.Table.Slug, first.SlugURL)

	nums, err := svc.Slugs.Decode(first.Table.Slug)
	require.NoError(t, err)
	assert.Equal(t, []int64{int64(first.Table.ID)}, nums)

	off := false
	second, err := svc.EnsureTable(ctx, EnsureTableInput{Label: " A1 ", Exclusive: &off})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Table.ID, second.Table.ID)
	assert.Equal(t, first.Table.Slug, second.Table.Slug)

	tables, err := svc.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.False(t, tables[0].ExclusiveSession)
}

func TestEnsureTableValidatesLabel(t *testing.T) {
	svc := newTestTableService(t, newFakeClock())

	_, err := svc.EnsureTable(context.Background(), EnsureTableInput{Label: ""})
	assert.Equal(t, utils.KindValidation, utils.KindOf(err))

	_, err = svc.EnsureTable(context.Background(), EnsureTableInput{Label: "a-very-long-table-label"})
	assert.Equal(t, utils.KindValidation, utils.KindOf(err))
}

func TestRotateTokenRevokesAndIssues(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTableService(t, clock)
	ctx := context.Background()
	ensured, err := svc.EnsureTable(ctx, EnsureTableInput{Label: "B2"})
	require.NoError(t, err)

	first, err := svc.RotateToken(ctx, ensured.Table.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, first.ExpiresAt)
	assert.Len(t, first.Token, 64)
	assert.NotEqual(t, ensured.Table.Slug, first.Slug)
	assert.Equal(t, "https://order.example/t/"+first.Token, first.TokenURL)

	clock.Advance(time.Second)
	second, err := svc.RotateToken(ctx, ensured.Table.ID, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Revoked)
	require.NotNil(t, second.ExpiresAt)
	assert.True(t, second.ExpiresAt.Equal(clock.Now().Add(30*time.Minute)))
	assert.NotEqual(t, first.Slug, second.Slug)

	var old models.AccessToken
	require.NoError(t, svc.DB.Where("token = ?", first.Token).First(&old).Error)
	assert.Equal(t, models.AccessTokenRevoked, old.Status)
	assert.NotNil(t, old.RevokedAt)

	var active int64
	require.NoError(t, svc.DB.Model(&models.AccessToken{}).
		Where("table_id = ? AND status = ?", ensured.Table.ID, models.AccessTokenActive).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)

	_, err = svc.RotateToken(ctx, 999, 0)
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))
}

func TestRotatedTokenOpensSession(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTableService(t, clock)
	ctx := context.Background()
	ensured, err := svc.EnsureTable(ctx, EnsureTableInput{Label: "C3"})
	require.NoError(t, err)
	rotated, err := svc.RotateToken(ctx, ensured.Table.ID, time.Hour)
	require.NoError(t, err)

	sessions := newTestSessionService(svc.DB, clock)
	opened, err := sessions.OpenByToken(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, ensured.Table.ID, opened.Table.ID)
	assert.Equal(t, rotated.Slug, opened.Table.Slug)

	clock.Advance(2 * time.Hour)
	_, err = sessions.OpenByToken(ctx, rotated.Token)
	assert.Equal(t, utils.KindSession, utils.KindOf(err))
}

func TestActiveMenu(t *testing.T) {
	svc := newTestTableService(t, newFakeClock())
	seedProduct(t, svc.DB, "Bibimbap", 11, 5)
	hidden := seedProduct(t, svc.DB, "Seasonal Soup", 6, 5)
	require.NoError(t, svc.DB.Model(hidden).Update("is_active", false).Error)

	menu, err := svc.ActiveMenu(context.Background())
	require.NoError(t, err)
	require.Len(t, menu, 1)
	assert.Equal(t, "Bibimbap", menu[0].Name)
}
