package catalog

import (
	"context"
	"errors"

	"shiftline-backend/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

func (s *Service) CreateProduct(ctx context.Context, name string) (*Product, error) {
	if name == "" {
		return nil, errutil.ValidationFailed("product name is required", nil)
	}

	product := &Product{
		ID:   s.node.Generate().Int64(),
		Name: name,
	}
	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		zap.L().Error("failed to create product", zap.Error(err))
		return nil, errutil.Internal("failed to create product", err)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	if err := s.db.WithContext(ctx).Order("name asc").Find(&products).Error; err != nil {
		return nil, errutil.Internal("failed to list products", err)
	}
	return products, nil
}

// ProductPackings returns the container sizes linked to one product.
func (s *Service) ProductPackings(ctx context.Context, productID int64) ([]*Packing, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var product Product
	if err := s.db.WithContext(ctx).First(&product, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("product not found", err)
		}
		return nil, errutil.Internal("failed to load product", err)
	}

	var packings []*Packing
	err := s.db.WithContext(ctx).
		Joins("JOIN product_packings ON product_packings.packing_id = packings.id").
		Where("product_packings.product_id = ?", productID).
		Find(&packings).Error
	if err != nil {
		return nil, errutil.Internal("failed to list product packings", err)
	}
	return packings, nil
}

func (s *Service) CreatePacking(ctx context.Context, value float64, norm int) (*Packing, error) {
	if value <= 0 {
		return nil, errutil.ValidationFailed("packing value must be positive", nil)
	}
	if norm <= 0 {
		return nil, errutil.ValidationFailed("packing norm must be positive", nil)
	}

	packing := &Packing{
		ID:    s.node.Generate().Int64(),
		Value: value,
		Norm:  norm,
	}
	if err := s.db.WithContext(ctx).Create(packing).Error; err != nil {
		zap.L().Error("failed to create packing", zap.Error(err))
		return nil, errutil.Internal("failed to create packing", err)
	}
	return packing, nil
}

func (s *Service) ListPackings(ctx context.Context) ([]*Packing, error) {
	var packings []*Packing
	if err := s.db.WithContext(ctx).Order("value asc").Find(&packings).Error; err != nil {
		return nil, errutil.Internal("failed to list packings", err)
	}
	return packings, nil
}

func (s *Service) GetPacking(ctx context.Context, id int64) (*Packing, error) {
	var packing Packing
	if err := s.db.WithContext(ctx).First(&packing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("packing not found", err)
		}
		return nil, errutil.Internal("failed to load packing", err)
	}
	return &packing, nil
}

func (s *Service) LinkProductPacking(ctx context.Context, productID, packingID int64) (*ProductPacking, error) {
	link := &ProductPacking{
		ID:        s.node.Generate().Int64(),
		ProductID: productID,
		PackingID: packingID,
	}
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, errutil.Internal("failed to link product and packing", err)
	}
	return link, nil
}

// ShiftDurationMinute reads the singleton settings row, falling back to the
// built-in default when none exists.
func (s *Service) ShiftDurationMinute(ctx context.Context) int {
	var settings DefaultSettings
	if err := s.db.WithContext(ctx).First(&settings).Error; err != nil {
		return DefaultShiftDurationMinute
	}
	if settings.ShiftDurationInMinute <= 0 {
		return DefaultShiftDurationMinute
	}
	return settings.ShiftDurationInMinute
}

type PercentResult struct {
	Percentage   float64 `json:"percentage"`
	TimeInMinute float64 `json:"time_in_minute"`
}

// CalculatePercentage converts a target quantity for one packing into the
// minutes needed and the share of a full shift it occupies.
func (s *Service) CalculatePercentage(ctx context.Context, packingID int64, target float64) (*PercentResult, error) {
	packing, err := s.GetPacking(ctx, packingID)
	if err != nil {
		return nil, err
	}

	duration := s.ShiftDurationMinute(ctx)
	normInMinute := packing.NormInMinute(duration)
	if normInMinute == 0 {
		return nil, errutil.ValidationFailed("packing norm is zero, cannot calculate percentage", nil)
	}

	timeNeeded := target / normInMinute
	return &PercentResult{
		Percentage:   (timeNeeded / float64(duration)) * 100,
		TimeInMinute: timeNeeded,
	}, nil
}
