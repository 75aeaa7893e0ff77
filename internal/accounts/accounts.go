package accounts

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"autopost/internal/errs"
	"autopost/internal/model"
)

const maxTextLen = 2048

func validateAccount(a *model.Account) error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Provider, validation.Required, validation.By(func(v interface{}) error {
			if p, _ := v.(model.Provider); !p.Valid() {
				return validation.NewError("validation_provider", "must be one of youtube, twitter, affiliate, outreach")
			}
			return nil
		})),
		validation.Field(&a.Nickname, validation.Required, validation.Length(1, 128)),
		validation.Field(&a.ProfileRef, validation.Length(0, maxTextLen)),
		validation.Field(&a.Topic, validation.Length(0, maxTextLen)),
	)
}

// CreateAccount validates and persists a new account with a fresh id.
func (s *Store) CreateAccount(ctx context.Context, provider model.Provider, nickname, profileRef, topic string) (model.Account, error) {
	const op = "create_account"
	acc := model.Account{
		Provider:   provider,
		Nickname:   strings.TrimSpace(nickname),
		ProfileRef: strings.TrimSpace(profileRef),
		Topic:      strings.TrimSpace(topic),
		CreatedAt:  s.now().UTC(),
	}
	if err := validateAccount(&acc); err != nil {
		return model.Account{}, errs.Validation(op, "%v", err)
	}

	err := s.mutate(ctx, op, provider, func(d *document) error {
		// One regeneration on collision, then give up.
		for attempt := 0; attempt < 2; attempt++ {
			id := s.newID()
			if !s.idTaken(id, provider, d) {
				acc.ID = id
				d.Accounts = append(d.Accounts, acc)
				return nil
			}
			s.log.Warn("account id collision, regenerating")
		}
		return errs.Conflict(op, "could not allocate a unique account id")
	})
	if err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

// idTaken checks id across every provider. d is the pending copy of own's
// document; the others are read from their snapshots, which cannot change
// while the writer lock is held.
func (s *Store) idTaken(id string, own model.Provider, d *document) bool {
	if id == "" {
		return true
	}
	for _, p := range model.Providers() {
		doc := d
		if p != own {
			doc = s.snapshot(p)
		}
		if doc.indexOf(id) >= 0 {
			return true
		}
	}
	return false
}

func (s *Store) GetAccount(ctx context.Context, provider model.Provider, id string) (model.Account, error) {
	_ = ctx
	if !provider.Valid() {
		return model.Account{}, errs.Validation("get_account", "unknown provider %q", provider)
	}
	doc := s.snapshot(provider)
	if i := doc.indexOf(id); i >= 0 {
		return doc.Accounts[i], nil
	}
	return model.Account{}, errs.NotFound("get_account", "%s account %q", provider, id)
}

// FindAccount looks id up across all providers.
func (s *Store) FindAccount(ctx context.Context, id string) (model.Account, error) {
	_ = ctx
	for _, p := range model.Providers() {
		doc := s.snapshot(p)
		if i := doc.indexOf(id); i >= 0 {
			return doc.Accounts[i], nil
		}
	}
	return model.Account{}, errs.NotFound("find_account", "account %q", id)
}

// ListAccounts returns provider's accounts in insertion order.
func (s *Store) ListAccounts(ctx context.Context, provider model.Provider) ([]model.Account, error) {
	_ = ctx
	if !provider.Valid() {
		return nil, errs.Validation("list_accounts", "unknown provider %q", provider)
	}
	return append([]model.Account(nil), s.snapshot(provider).Accounts...), nil
}

// UpdateAccount merges the non-nil fields of upd.
func (s *Store) UpdateAccount(ctx context.Context, provider model.Provider, id string, upd model.AccountUpdate) (model.Account, error) {
	const op = "update_account"
	var out model.Account
	err := s.mutate(ctx, op, provider, func(d *document) error {
		i := d.indexOf(id)
		if i < 0 {
			return errs.NotFound(op, "%s account %q", provider, id)
		}
		acc := d.Accounts[i]
		if upd.Nickname != nil {
			acc.Nickname = strings.TrimSpace(*upd.Nickname)
		}
		if upd.ProfileRef != nil {
			acc.ProfileRef = strings.TrimSpace(*upd.ProfileRef)
		}
		if upd.Topic != nil {
			acc.Topic = strings.TrimSpace(*upd.Topic)
		}
		if err := validateAccount(&acc); err != nil {
			return errs.Validation(op, "%v", err)
		}
		d.Accounts[i] = acc
		out = acc
		return nil
	})
	return out, err
}

// RemoveAccount deletes the account together with its persisted schedule
// entries and products in one write. Job history is kept.
func (s *Store) RemoveAccount(ctx context.Context, provider model.Provider, id string) (bool, error) {
	const op = "remove_account"
	err := s.mutate(ctx, op, provider, func(d *document) error {
		i := d.indexOf(id)
		if i < 0 {
			return errs.NotFound(op, "%s account %q", provider, id)
		}
		d.Accounts = append(d.Accounts[:i], d.Accounts[i+1:]...)
		sched := d.Schedule[:0]
		for _, e := range d.Schedule {
			if e.AccountID != id {
				sched = append(sched, e)
			}
		}
		d.Schedule = sched
		products := d.Products[:0]
		for _, p := range d.Products {
			if p.AccountID != id {
				products = append(products, p)
			}
		}
		d.Products = products
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear wipes provider's document: accounts, schedule, history and products.
func (s *Store) Clear(ctx context.Context, provider model.Provider) error {
	return s.mutate(ctx, "clear", provider, func(d *document) error {
		*d = *emptyDocument()
		return nil
	})
}
