package catalog

import "time"

type Product struct {
	ID        int64     `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Packing is one container size. Norm is the number of units a line is
// expected to pack over a full shift.
type Packing struct {
	ID        int64     `gorm:"column:id;primaryKey" json:"id"`
	Value     float64   `gorm:"column:value;not null" json:"value"`
	Norm      int       `gorm:"column:norm;not null" json:"norm"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// NormInMinute converts the per-shift norm into units per minute.
func (p Packing) NormInMinute(shiftDurationMinute int) float64 {
	if shiftDurationMinute == 0 {
		return 0
	}
	return float64(p.Norm) / float64(shiftDurationMinute)
}

// ProductPacking links a product to the container sizes it ships in.
type ProductPacking struct {
	ID        int64 `gorm:"column:id;primaryKey" json:"id"`
	ProductID int64 `gorm:"column:product_id;index;not null" json:"product_id"`
	PackingID int64 `gorm:"column:packing_id;index;not null" json:"packing_id"`
}

// DefaultSettings is a process-wide singleton row.
type DefaultSettings struct {
	ID                    int64 `gorm:"column:id;primaryKey" json:"id"`
	ShiftDurationInMinute int   `gorm:"column:shift_duration_in_minute;default:480" json:"shift_duration_in_minute"`
}

const DefaultShiftDurationMinute = 480
