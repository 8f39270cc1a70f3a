package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

// PriceHistoryRecord is one append-only row per successful live
// resolution. Closest-by-date reads feed the change calculator.
type PriceHistoryRecord struct {
	ID         int64
	Asset      domain.Asset
	Amount     decimal.Decimal
	RecordedAt time.Time
	Source     string
}

// CalibrationRatio is the daily proxy/spot conversion row, one per
// instrument per calendar day.
type CalibrationRatio struct {
	Instrument      string
	RatioDate       time.Time
	InstrumentRatio decimal.Decimal
	ProxyPrice      decimal.Decimal
	SpotPriceUsed   decimal.Decimal
	UpdatedAt       time.Time
}

// Alert is a user threshold alert. The evaluator mutates only the
// enabled->triggered transition; everything else belongs to the owner.
type Alert struct {
	ID             int64
	OwnerRef       string
	Asset          domain.Asset
	TargetPrice    decimal.Decimal
	Direction      string // "above" or "below"
	Enabled        bool
	Triggered      bool
	TriggeredAt    *time.Time
	TriggeredPrice *decimal.Decimal
	CreatedAt      time.Time
}

// DeviceToken is a registered delivery destination for an owner.
type DeviceToken struct {
	ID        int64
	OwnerRef  string
	Token     string
	CreatedAt time.Time
}

// NotificationRecord is a write-once audit row per dispatch attempt. A
// row with an empty DestinationToken records a delivery that was
// skipped because the owner had no destination registered.
type NotificationRecord struct {
	ID               int64
	AlertID          int64
	DestinationToken string
	RequestedPrice   decimal.Decimal
	Delivered        bool
	ReceiptID        *string
	ErrorDetail      *string
	CreatedAt        time.Time
}

// Alert direction values.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)
