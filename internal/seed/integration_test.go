//go:build integration

package seed

import (
	"context"
	"testing"

	"kortrade/internal/models"
	"kortrade/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestIntegration_SeedDemoPresetOnPostgres(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPostgresDB(t)

	s := NewSeeder(db, Options{SkipBcrypt: true, SignupBonus: 10000, BatchSize: 50, MaxDays: 30})
	require.NoError(t, s.ApplyPreset(ctx, "demo"))

	var supply, ledger float64
	require.NoError(t, db.Model(&models.User{}).Select("COALESCE(SUM(kor_coin_balance), 0)").Row().Scan(&supply))
	require.NoError(t, db.Model(&models.CoinTransaction{}).Select("COALESCE(SUM(amount), 0)").Row().Scan(&ledger))
	require.InDelta(t, supply, ledger, 1e-6)

	var posts int64
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	require.Equal(t, int64(Presets["demo"].Posts), posts)

	require.NoError(t, s.ClearAll())
	var users int64
	require.NoError(t, db.Model(&models.User{}).Unscoped().Count(&users).Error)
	require.Zero(t, users)
}
