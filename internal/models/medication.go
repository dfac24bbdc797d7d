package models

// Defaults applied to optional medication and inventory fields.
const (
	DefaultMedicationIcon  = "pill"
	DefaultMedicationColor = "#FFFFFF"
)

// Medication is a user-owned medication definition.
type Medication struct {
	EngineModel
	UserID           string `gorm:"size:36;index;not null" json:"userId"`
	Name             string `gorm:"size:255;not null" json:"name"`
	Dosage           string `gorm:"size:100" json:"dosage"`
	Icon             string `gorm:"size:50;default:'pill'" json:"icon"`
	Color            string `gorm:"size:20" json:"color"`
	Description      string `gorm:"type:text" json:"description"`
	SideEffects      string `gorm:"type:text" json:"sideEffects"`
	ActiveIngredient string `gorm:"size:255" json:"activeIngredient"`

	// Relations (not always preloaded)
	Inventory *InventoryRecord `gorm:"foreignKey:MedicationID" json:"inventory,omitempty"`
	Schedules []Schedule       `gorm:"foreignKey:MedicationID" json:"schedules,omitempty"`
}

// InventoryRecord tracks how much of a medication the user has left.
// RemainingQuantity never goes below zero.
type InventoryRecord struct {
	EngineModel
	MedicationID      uint    `gorm:"uniqueIndex;not null" json:"medicationId"`
	RemainingQuantity int     `gorm:"not null;default:0" json:"remainingQuantity"`
	Unit              string  `gorm:"size:20;not null" json:"unit"`
	RefillThreshold   int     `gorm:"not null" json:"refillThreshold"`
	LastRefillDate    *string `gorm:"size:10" json:"lastRefillDate,omitempty"`
}

func (InventoryRecord) TableName() string { return "medication_inventory" }

// IsLowStock reports whether the remaining quantity reached the refill threshold.
func (r *InventoryRecord) IsLowStock() bool {
	return r.RemainingQuantity <= r.RefillThreshold
}
