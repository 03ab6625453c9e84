package models

import "time"

// Client is the canonical identity a company/person pair resolves to.
// Events and purchases reference clients by numeric id; rows are created
// lazily by the identity resolver and never deleted by the engine.
type Client struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	CompanyName string    `gorm:"column:company_name;not null" json:"company_name"`
	PersonName  string    `gorm:"column:person_name" json:"person_name,omitempty"`
	CreatedAt   time.Time `json:"-"`
}

func (Client) TableName() string { return "clients" }

// Product is a catalog entry offered to clients.
type Product struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"column:product_code;uniqueIndex" json:"product_code"`
	Name        string    `gorm:"column:name" json:"name"`
	Category    string    `gorm:"column:category" json:"category,omitempty"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	BasePrice   float64   `gorm:"column:base_price" json:"base_price"`
	IsActive    bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt   time.Time `json:"-"`
}

func (Product) TableName() string { return "products" }

// Purchase is one product/service line bought by a client, as stored in the
// client_products table. Company and person names are denormalized so
// purchase history stays readable without a join.
type Purchase struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ClientID     *int64    `gorm:"column:client_id" json:"client_id,omitempty"`
	CompanyName  string    `gorm:"column:company_name" json:"company_name,omitempty"`
	PersonName   string    `gorm:"column:person_name" json:"person_name,omitempty"`
	ProductCode  string    `gorm:"column:product_code" json:"product_code"`
	ProductName  string    `gorm:"column:product_name" json:"product_name,omitempty"`
	Units        int       `gorm:"column:units;default:1" json:"units"`
	UnitPrice    float64   `gorm:"column:unit_price" json:"unit_price"`
	Discount     float64   `gorm:"column:discount" json:"discount,omitempty"`
	Notes        string    `gorm:"column:notes" json:"notes,omitempty"`
	PurchaseDate string    `gorm:"column:purchase_date" json:"purchase_date,omitempty"`
	CreatedAt    time.Time `json:"-"`
}

func (Purchase) TableName() string { return "client_products" }
