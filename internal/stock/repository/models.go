package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind classifies a stock movement
type MovementKind string

const (
	KindPurchase   MovementKind = "purchase"
	KindSale       MovementKind = "sale"
	KindTransfer   MovementKind = "transfer"
	KindAdjustment MovementKind = "adjustment"
	KindWaste      MovementKind = "waste"
	KindReturn     MovementKind = "return"
)

// Valid reports whether k is a known movement kind
func (k MovementKind) Valid() bool {
	switch k {
	case KindPurchase, KindSale, KindTransfer, KindAdjustment, KindWaste, KindReturn:
		return true
	}
	return false
}

// Signed reports whether the caller supplies the direction of the movement.
// Other kinds have a fixed direction (see Sign).
func (k MovementKind) Signed() bool {
	return k == KindAdjustment || k == KindTransfer
}

// Sign is +1 for kinds that add stock, -1 for kinds that remove it and 0
// for signed kinds.
func (k MovementKind) Sign() int {
	switch k {
	case KindPurchase, KindReturn:
		return 1
	case KindSale, KindWaste:
		return -1
	}
	return 0
}

// WorkItemType identifies the external aggregate an allocation belongs to
type WorkItemType string

const (
	WorkItemTask         WorkItemType = "task"
	WorkItemIntervention WorkItemType = "intervention"
)

// Valid reports whether t is a known work item type
func (t WorkItemType) Valid() bool {
	return t == WorkItemTask || t == WorkItemIntervention
}

// WorkItem references a task or intervention by id only
type WorkItem struct {
	Type WorkItemType `json:"type"`
	ID   string       `json:"id"`
}

// AllocationStatus is the lifecycle state of an allocation record
type AllocationStatus string

const (
	StatusPlanned         AllocationStatus = "planned"
	StatusInUse           AllocationStatus = "in_use"
	StatusShortageFlagged AllocationStatus = "shortage_flagged"
	StatusSettled         AllocationStatus = "settled"
)

// NotificationCategory groups notifications for recipients
type NotificationCategory string

const (
	CategoryStockAlert        NotificationCategory = "stock_alert"
	CategoryStockShortage     NotificationCategory = "stock_shortage"
	CategoryAdditionalRequest NotificationCategory = "additional_request"
)

// StockItem is a catalog entry with its on-hand quantity
type StockItem struct {
	ID          string          `db:"id" json:"id"`
	Reference   string          `db:"reference" json:"reference"`
	Label       string          `db:"label" json:"label"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	MinQuantity decimal.Decimal `db:"min_quantity" json:"min_quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Unit        string          `db:"unit" json:"unit"`
	Value       decimal.Decimal `db:"value" json:"value"`
	Version     int64           `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// RecomputeValue sets Value to UnitPrice × Quantity
func (i *StockItem) RecomputeValue() {
	i.Value = i.UnitPrice.Mul(i.Quantity)
}

// IsBelowThreshold reports whether the item has a threshold and has reached it
func (i *StockItem) IsBelowThreshold() bool {
	return i.MinQuantity.IsPositive() && i.Quantity.LessThanOrEqual(i.MinQuantity)
}

// ItemFilter narrows catalog listings
type ItemFilter struct {
	Search         string
	BelowThreshold bool
}

// Movement is an immutable change of a stock item's quantity
type Movement struct {
	ID            string          `db:"id" json:"id"`
	Seq           int64           `db:"seq" json:"seq"`
	StockItemID   string          `db:"stock_item_id" json:"stock_item_id"`
	Kind          MovementKind    `db:"kind" json:"kind"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	QuantityDelta decimal.Decimal `db:"quantity_delta" json:"quantity_delta"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice    decimal.Decimal `db:"total_price" json:"total_price"`
	Reference     *string         `db:"reference" json:"reference,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	WorkItemType  *WorkItemType   `db:"work_item_type" json:"work_item_type,omitempty"`
	WorkItemID    *string         `db:"work_item_id" json:"work_item_id,omitempty"`
	ProjectID     *string         `db:"project_id" json:"project_id,omitempty"`
	SupplierID    *string         `db:"supplier_id" json:"supplier_id,omitempty"`
	AllocationID  *string         `db:"allocation_id" json:"allocation_id,omitempty"`
	PerformedBy   string          `db:"performed_by" json:"performed_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// AllocationRecord ties a stock item to the planned and actual usage of a work item
type AllocationRecord struct {
	ID                    string              `db:"id" json:"id"`
	WorkItemType          WorkItemType        `db:"work_item_type" json:"work_item_type"`
	WorkItemID            string              `db:"work_item_id" json:"work_item_id"`
	ProjectID             *string             `db:"project_id" json:"project_id,omitempty"`
	StockItemID           string              `db:"stock_item_id" json:"stock_item_id"`
	EstimatedQuantity     decimal.Decimal     `db:"estimated_quantity" json:"estimated_quantity"`
	AdditionalQuantity    decimal.Decimal     `db:"additional_quantity" json:"additional_quantity"`
	ActualQuantityUsed    decimal.NullDecimal `db:"actual_quantity_used" json:"actual_quantity_used"`
	RemainingQuantity     decimal.NullDecimal `db:"remaining_quantity" json:"remaining_quantity"`
	ReturnToStock         bool                `db:"return_to_stock" json:"return_to_stock"`
	JustificationShortage *string             `db:"justification_shortage" json:"justification_shortage,omitempty"`
	UnitType              string              `db:"unit_type" json:"unit_type"`
	Status                AllocationStatus    `db:"status" json:"status"`
	ConsumptionAssumed    bool                `db:"consumption_assumed" json:"consumption_assumed"`
	Notes                 string              `db:"notes" json:"notes"`
	SettledAt             *time.Time          `db:"settled_at" json:"settled_at,omitempty"`
	Version               int64               `db:"version" json:"version"`
	CreatedBy             string              `db:"created_by" json:"created_by"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
}

// Total is the quantity the record may consume: estimated plus additional
func (a *AllocationRecord) Total() decimal.Decimal {
	return a.EstimatedQuantity.Add(a.AdditionalQuantity)
}

// ResumeStatus is the state a record returns to once it leaves shortage_flagged
func (a *AllocationRecord) ResumeStatus() AllocationStatus {
	if a.ActualQuantityUsed.Valid {
		return StatusInUse
	}
	return StatusPlanned
}

// WorkItem returns the work item the record belongs to
func (a *AllocationRecord) WorkItem() WorkItem {
	return WorkItem{Type: a.WorkItemType, ID: a.WorkItemID}
}

// Notification is an alert addressed to one recipient
type Notification struct {
	ID           string               `db:"id" json:"id"`
	RecipientID  string               `db:"recipient_id" json:"recipient_id"`
	Title        string               `db:"title" json:"title"`
	Message      string               `db:"message" json:"message"`
	Category     NotificationCategory `db:"category" json:"category"`
	IsRead       bool                 `db:"is_read" json:"is_read"`
	StockItemID  *string              `db:"stock_item_id" json:"stock_item_id,omitempty"`
	WorkItemType *WorkItemType        `db:"work_item_type" json:"work_item_type,omitempty"`
	WorkItemID   *string              `db:"work_item_id" json:"work_item_id,omitempty"`
	AllocationID *string              `db:"allocation_id" json:"allocation_id,omitempty"`
	CreatedAt    time.Time            `db:"created_at" json:"created_at"`
	ReadAt       *time.Time           `db:"read_at" json:"read_at,omitempty"`
}

// Recipient is a cached user who can receive notifications
type Recipient struct {
	UserID    string  `db:"user_id" json:"user_id"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Email     *string `db:"email" json:"email,omitempty"`
	RoleName  *string `db:"role_name" json:"role_name,omitempty"`
}

// FullName returns the recipient's full name
func (r *Recipient) FullName() string {
	return r.FirstName + " " + r.LastName
}
