package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agendasync/internal/models"
)

// FindClient returns the first client whose company name contains company,
// case-insensitively, and whose person name contains person when person is
// given. Returns nil without error when nothing matches. Ordering by id
// keeps the "first match" deterministic.
func (s *Store) FindClient(ctx context.Context, company, person string) (*models.Client, error) {
	q := ilike(s.db.WithContext(ctx).Model(&models.Client{}), "company_name", company)
	if person != "" {
		q = ilike(q, "person_name", person)
	}

	var c models.Client
	err := q.Order("id").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search clients: %w", err)
	}
	return &c, nil
}

// CreateClient inserts a new client row, filling in its assigned id.
func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient fetches a client by numeric id.
func (s *Store) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %d: %w", id, err)
	}
	return &c, nil
}

// ProductFilter narrows the catalog listing. Inactive products are hidden
// unless IncludeInactive is set.
type ProductFilter struct {
	Category        string
	MinPrice        *float64
	MaxPrice        *float64
	IncludeInactive bool
}

// ListProducts returns catalog entries matching the filter.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	q := s.db.WithContext(ctx).Model(&models.Product{})
	if f.Category != "" {
		q = ilike(q, "category", f.Category)
	}
	if f.MinPrice != nil {
		q = q.Where("base_price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("base_price <= ?", *f.MaxPrice)
	}
	if !f.IncludeInactive {
		q = q.Where("is_active = ?", true)
	}

	var products []models.Product
	if err := q.Order("id").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// UpsertProduct inserts a product or overwrites the row sharing its code.
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_code"}},
		UpdateAll: true,
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.Code, err)
	}
	return nil
}

// DeleteProduct removes a catalog entry by numeric id.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&models.Product{}, id)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete product %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// PurchaseFilter narrows the purchase history listing. Name fields match
// case-insensitive substrings; DateMin/DateMax bound purchase_date.
type PurchaseFilter struct {
	ClientID    *int64
	CompanyName string
	PersonName  string
	ProductCode string
	DateMin     string
	DateMax     string
}

// ListPurchases returns purchase lines matching the filter.
func (s *Store) ListPurchases(ctx context.Context, f PurchaseFilter) ([]models.Purchase, error) {
	q := s.db.WithContext(ctx).Model(&models.Purchase{})
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.CompanyName != "" {
		q = ilike(q, "company_name", f.CompanyName)
	}
	if f.PersonName != "" {
		q = ilike(q, "person_name", f.PersonName)
	}
	if f.ProductCode != "" {
		q = q.Where("product_code = ?", f.ProductCode)
	}
	if f.DateMin != "" {
		q = q.Where("purchase_date >= ?", f.DateMin)
	}
	if f.DateMax != "" {
		q = q.Where("purchase_date <= ?", f.DateMax)
	}

	var purchases []models.Purchase
	if err := q.Order("id").Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}

// AddPurchase inserts a purchase line, filling in its assigned id.
func (s *Store) AddPurchase(ctx context.Context, p *models.Purchase) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to add purchase: %w", err)
	}
	return nil
}

// UpdatePurchase applies a partial update to a purchase line by numeric id.
func (s *Store) UpdatePurchase(ctx context.Context, id int64, updates map[string]any) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update purchase %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// DeletePurchase removes a purchase line by numeric id.
func (s *Store) DeletePurchase(ctx context.Context, id int64) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&models.Purchase{}, id)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete purchase %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}
