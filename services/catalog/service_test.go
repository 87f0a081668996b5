package catalog

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shiftline-backend/pkg/errutil"
	"shiftline-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Product{}, &Packing{}, &ProductPacking{}, &DefaultSettings{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateProduct(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, "lemonade 1.5l")
	require.NoError(t, err)
	require.NotZero(t, product.ID)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "lemonade 1.5l", products[0].Name)
}

func TestCreateProductRequiresName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateProduct(context.Background(), "")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestCreatePackingValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePacking(ctx, 0, 480)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = svc.CreatePacking(ctx, 0.5, 0)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestProductPackings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, "water 0.5l")
	require.NoError(t, err)
	linked, err := svc.CreatePacking(ctx, 0.5, 960)
	require.NoError(t, err)
	_, err = svc.CreatePacking(ctx, 1.5, 480)
	require.NoError(t, err)

	_, err = svc.LinkProductPacking(ctx, product.ID, linked.ID)
	require.NoError(t, err)

	packings, err := svc.ProductPackings(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, packings, 1)
	require.Equal(t, linked.ID, packings[0].ID)
}

func TestProductPackingsUnknownProduct(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ProductPackings(context.Background(), 12345)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestNormInMinute(t *testing.T) {
	p := Packing{Norm: 960}

	require.InDelta(t, 2.0, p.NormInMinute(480), 1e-9)
	require.Zero(t, p.NormInMinute(0))
}

func TestShiftDurationMinuteFallback(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.Equal(t, DefaultShiftDurationMinute, svc.ShiftDurationMinute(ctx))

	require.NoError(t, svc.db.Create(&DefaultSettings{ID: 1, ShiftDurationInMinute: 420}).Error)
	require.Equal(t, 420, svc.ShiftDurationMinute(ctx))
}

func TestCalculatePercentage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Norm 960 over the default 480 minute shift is two units per minute.
	packing, err := svc.CreatePacking(ctx, 0.5, 960)
	require.NoError(t, err)

	result, err := svc.CalculatePercentage(ctx, packing.ID, 240)
	require.NoError(t, err)
	require.InDelta(t, 120.0, result.TimeInMinute, 1e-9)
	require.InDelta(t, 25.0, result.Percentage, 1e-9)
}

func TestCalculatePercentageUnknownPacking(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CalculatePercentage(context.Background(), 9999, 100)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}
