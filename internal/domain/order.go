package domain

import (
	"time"
)

// Order is one row of the processed order dataset behind the KPI views.
type Order struct {
	ID             string     `json:"id" validate:"required"`
	Status         string     `json:"status" validate:"required"`
	CustomerState  string     `json:"customerState" validate:"required"`
	SellerState    string     `json:"sellerState,omitempty"`
	CategoryCode   string     `json:"categoryCode"`
	CategoryLabel  string     `json:"categoryLabel,omitempty"`
	Revenue        float64    `json:"revenue" validate:"gte=0"`
	Late           bool       `json:"late"`
	DelayDays      float64    `json:"delayDays"`
	ProcessingDays float64    `json:"processingDays"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
}

// StatusCanceled is the simplified status of a canceled order in the dataset.
const StatusCanceled = "Cancelado"

// OrderFilter narrows the dataset. Empty slices match everything.
type OrderFilter struct {
	Statuses   []string `json:"statuses,omitempty"`
	States     []string `json:"states,omitempty"`
	Categories []string `json:"categories,omitempty"` // category labels
}

// IsEmpty reports whether the filter matches every order.
func (f OrderFilter) IsEmpty() bool {
	return len(f.Statuses) == 0 && len(f.States) == 0 && len(f.Categories) == 0
}
