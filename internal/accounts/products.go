package accounts

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"autopost/internal/errs"
	"autopost/internal/model"
)

// AddProduct registers an affiliate link pitched by an affiliate account.
func (s *Store) AddProduct(ctx context.Context, accountID, link string) (model.Product, error) {
	const op = "add_product"
	p := model.Product{
		AccountID:     strings.TrimSpace(accountID),
		AffiliateLink: strings.TrimSpace(link),
		CreatedAt:     s.now().UTC(),
	}
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.AccountID, validation.Required),
		validation.Field(&p.AffiliateLink, validation.Required, is.URL),
	); err != nil {
		return model.Product{}, errs.Validation(op, "%v", err)
	}

	err := s.mutate(ctx, op, model.ProviderAffiliate, func(d *document) error {
		if d.indexOf(p.AccountID) < 0 {
			return errs.NotFound(op, "affiliate account %q", p.AccountID)
		}
		for _, existing := range d.Products {
			if existing.AccountID == p.AccountID && existing.AffiliateLink == p.AffiliateLink {
				return errs.Conflict(op, "product %q already registered for %s", p.AffiliateLink, p.AccountID)
			}
		}
		p.ID = NewRecordID()
		d.Products = append(d.Products, p)
		return nil
	})
	if err != nil {
		return model.Product{}, err
	}
	return p, nil
}

// ListProducts returns affiliate products in insertion order. An empty
// accountID lists all of them.
func (s *Store) ListProducts(ctx context.Context, accountID string) ([]model.Product, error) {
	_ = ctx
	var out []model.Product
	for _, p := range s.snapshot(model.ProviderAffiliate).Products {
		if accountID == "" || p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}
