package tools

import (
	"context"
	"encoding/json"

	"agendasync/internal/clients"
	"agendasync/internal/models"
	"agendasync/internal/store"
)

type listProductsArgs struct {
	Category        string   `json:"category"`
	MinPrice        *float64 `json:"min_price" validate:"omitempty,gte=0"`
	MaxPrice        *float64 `json:"max_price" validate:"omitempty,gte=0"`
	IncludeInactive bool     `json:"include_inactive"`
}

type upsertProductArgs struct {
	Code        string  `json:"product_code" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	BasePrice   float64 `json:"base_price" validate:"gte=0"`
	IsActive    *bool   `json:"is_active"`
}

type deleteProductArgs struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type listPurchasesArgs struct {
	ClientID    *int64 `json:"client_id"`
	CompanyName string `json:"company_name"`
	PersonName  string `json:"person_name"`
	ProductCode string `json:"product_code"`
	DateMin     string `json:"date_min"`
	DateMax     string `json:"date_max"`
}

type addPurchaseArgs struct {
	ClientID     *int64  `json:"client_id"`
	CompanyName  string  `json:"company_name"`
	PersonName   string  `json:"person_name"`
	ProductCode  string  `json:"product_code" validate:"required"`
	ProductName  string  `json:"product_name"`
	Units        int     `json:"units" validate:"omitempty,gt=0"`
	UnitPrice    float64 `json:"unit_price" validate:"gte=0"`
	Discount     float64 `json:"discount" validate:"gte=0"`
	Notes        string  `json:"notes"`
	PurchaseDate string  `json:"purchase_date"`
}

type updatePurchaseArgs struct {
	ID      int64          `json:"id" validate:"required,gt=0"`
	Updates map[string]any `json:"updates" validate:"required"`
}

type deletePurchaseArgs struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type listProductsResult struct {
	Status string           `json:"status"`
	Detail []models.Product `json:"detail"`
}

type listPurchasesResult struct {
	Status string            `json:"status"`
	Detail []models.Purchase `json:"detail"`
}

type recordResult struct {
	Status string `json:"status"`
	Detail any    `json:"detail,omitempty"`
}

// purchaseColumns is the set of purchase fields a partial update may touch.
var purchaseColumns = map[string]bool{
	"company_name":  true,
	"person_name":   true,
	"client_id":     true,
	"product_code":  true,
	"product_name":  true,
	"units":         true,
	"unit_price":    true,
	"discount":      true,
	"notes":         true,
	"purchase_date": true,
}

// RegisterCRMTools wires the product catalog and client purchase history
// into the registry. Purchase writes share the events' identity-resolution
// dependency: a missing client_id is resolved (or created) from the
// company/person names.
func RegisterCRMTools(r *Registry, s *store.Store, resolver *clients.Resolver) {
	r.Register("list_products",
		"List catalog products with optional category, price range and active filters.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[listProductsArgs](r, raw)
			if err != nil {
				return nil, err
			}
			products, err := s.ListProducts(ctx, store.ProductFilter{
				Category:        args.Category,
				MinPrice:        args.MinPrice,
				MaxPrice:        args.MaxPrice,
				IncludeInactive: args.IncludeInactive,
			})
			if err != nil {
				return nil, err
			}
			return listProductsResult{Status: "ok", Detail: products}, nil
		})

	r.Register("upsert_product",
		"Create a catalog product or overwrite the one sharing its code.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[upsertProductArgs](r, raw)
			if err != nil {
				return nil, err
			}
			product := &models.Product{
				Code:        args.Code,
				Name:        args.Name,
				Category:    args.Category,
				Description: args.Description,
				BasePrice:   args.BasePrice,
				IsActive:    true,
			}
			if args.IsActive != nil {
				product.IsActive = *args.IsActive
			}
			if err := s.UpsertProduct(ctx, product); err != nil {
				return nil, err
			}
			return recordResult{Status: "ok", Detail: product}, nil
		})

	r.Register("delete_product",
		"Delete a catalog product by its numeric id.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[deleteProductArgs](r, raw)
			if err != nil {
				return nil, err
			}
			removed, err := s.DeleteProduct(ctx, args.ID)
			if err != nil {
				return nil, err
			}
			return recordResult{Status: "ok", Detail: map[string]any{"removed": removed}}, nil
		})

	r.Register("list_purchases",
		"List client purchase lines with flexible filters (partial name matching, date range).",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[listPurchasesArgs](r, raw)
			if err != nil {
				return nil, err
			}
			purchases, err := s.ListPurchases(ctx, store.PurchaseFilter{
				ClientID:    args.ClientID,
				CompanyName: args.CompanyName,
				PersonName:  args.PersonName,
				ProductCode: args.ProductCode,
				DateMin:     args.DateMin,
				DateMax:     args.DateMax,
			})
			if err != nil {
				return nil, err
			}
			return listPurchasesResult{Status: "ok", Detail: purchases}, nil
		})

	r.Register("add_purchase",
		"Record a purchase for a client, resolving or creating the client when needed.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[addPurchaseArgs](r, raw)
			if err != nil {
				return nil, err
			}

			purchase := &models.Purchase{
				ClientID:     args.ClientID,
				CompanyName:  args.CompanyName,
				PersonName:   args.PersonName,
				ProductCode:  args.ProductCode,
				ProductName:  args.ProductName,
				Units:        args.Units,
				UnitPrice:    args.UnitPrice,
				Discount:     args.Discount,
				Notes:        args.Notes,
				PurchaseDate: args.PurchaseDate,
			}
			if purchase.Units == 0 {
				purchase.Units = 1
			}

			if purchase.ClientID == nil {
				clientID, err := resolver.ResolveOrCreate(ctx, args.CompanyName, args.PersonName, true)
				if err != nil {
					return nil, err
				}
				purchase.ClientID = clientID
			} else if purchase.CompanyName == "" {
				// Backfill the denormalized names from the client row.
				c, err := s.GetClient(ctx, *purchase.ClientID)
				if err == nil {
					purchase.CompanyName = c.CompanyName
					if purchase.PersonName == "" {
						purchase.PersonName = c.PersonName
					}
				}
			}

			if err := s.AddPurchase(ctx, purchase); err != nil {
				return nil, err
			}
			return recordResult{Status: "ok", Detail: purchase}, nil
		})

	r.Register("update_purchase",
		"Update fields of a purchase line by its numeric id.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[updatePurchaseArgs](r, raw)
			if err != nil {
				return nil, err
			}

			fields := map[string]any{}
			for k, v := range args.Updates {
				if purchaseColumns[k] {
					fields[k] = v
				}
			}

			company, _ := fields["company_name"].(string)
			if company != "" {
				if _, explicit := fields["client_id"]; !explicit {
					person, _ := fields["person_name"].(string)
					clientID, err := resolver.ResolveOrCreate(ctx, company, person, true)
					if err != nil {
						return nil, err
					}
					if clientID != nil {
						fields["client_id"] = *clientID
					}
				}
			}

			updated, err := s.UpdatePurchase(ctx, args.ID, fields)
			if err != nil {
				return nil, err
			}
			return recordResult{Status: "ok", Detail: map[string]any{"updated": updated}}, nil
		})

	r.Register("delete_purchase",
		"Delete a purchase line by its numeric id.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[deletePurchaseArgs](r, raw)
			if err != nil {
				return nil, err
			}
			removed, err := s.DeletePurchase(ctx, args.ID)
			if err != nil {
				return nil, err
			}
			return recordResult{Status: "ok", Detail: map[string]any{"removed": removed}}, nil
		})
}
