package account

import (
	"context"
	"errors"
	"fmt"

	"salonbook.app/internal/docstore"
	"salonbook.app/internal/ids"
)

var (
	ErrBusinessNotFound = errors.New("account: business not found")
	ErrProfileNotFound  = errors.New("account: profile not found")
	ErrAlreadyLinked    = errors.New("account: professional already linked to business")
)

// reservedProfileFields are managed by the server and never taken from callers.
var reservedProfileFields = []string{"status", "role", "businesses", "createdAt", "updatedAt"}

// Repository reads and writes account records.
type Repository struct {
	store docstore.Store
}

// NewRepository builds a Repository over store.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// User loads a user. ok is false when the document does not exist.
func (r *Repository) User(ctx context.Context, uid string) (u User, ok bool, err error) {
	doc, err := r.store.Get(ctx, UsersCollection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	if err := doc.DataTo(&u); err != nil {
		return User{}, false, err
	}
	u.UID = uid
	return u, true, nil
}

// CreateUser stores a new user document and returns it as stored. An existing
// document yields docstore.ErrAlreadyExists.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	data := map[string]any{
		"uid":         u.UID,
		"email":       u.Email,
		"displayName": u.DisplayName,
		"roles":       u.Roles,
		"activeRole":  u.ActiveRole,
		"createdAt":   docstore.ServerTimestamp,
		"updatedAt":   docstore.ServerTimestamp,
	}
	if u.PhotoURL != "" {
		data["photoURL"] = u.PhotoURL
	}
	if err := r.store.Create(ctx, UsersCollection, u.UID, data); err != nil {
		return User{}, err
	}
	created, _, err := r.User(ctx, u.UID)
	return created, err
}

// EnsureUserRole creates the user with roles [role] or adds role to an existing user's
// role set, in one transaction. It reports whether the user was created.
func (r *Repository) EnsureUserRole(ctx context.Context, uid, email, role string) (created bool, err error) {
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		created = false
		_, err := tx.Get(ctx, UsersCollection, uid)
		if errors.Is(err, docstore.ErrNotFound) {
			created = true
			return tx.Create(UsersCollection, uid, map[string]any{
				"uid":        uid,
				"email":      email,
				"roles":      []string{role},
				"activeRole": role,
				"createdAt":  docstore.ServerTimestamp,
				"updatedAt":  docstore.ServerTimestamp,
			})
		}
		if err != nil {
			return err
		}
		return tx.Update(UsersCollection, uid, map[string]any{
			"roles":     docstore.ArrayUnion(role),
			"updatedAt": docstore.ServerTimestamp,
		})
	})
	return created, err
}

// Profile loads the profile of uid for role.
func (r *Repository) Profile(ctx context.Context, uid, role string) (Profile, bool, error) {
	doc, err := r.store.Get(ctx, ProfilesCollection(uid), role)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return Profile(doc.Data), true, nil
}

// PutProfile replaces the profile of uid for role with fields, marked active. The
// server-managed business set and creation time of an existing profile are kept.
func (r *Repository) PutProfile(ctx context.Context, uid, role string, fields map[string]any) error {
	coll := ProfilesCollection(uid)
	return r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		data := make(map[string]any, len(fields)+5)
		for k, v := range fields {
			data[k] = v
		}
		for _, k := range reservedProfileFields {
			delete(data, k)
		}
		data["role"] = role
		data["status"] = StatusActive
		data["createdAt"] = docstore.ServerTimestamp
		data["updatedAt"] = docstore.ServerTimestamp

		existing, err := tx.Get(ctx, coll, role)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			return err
		default:
			if b, ok := existing.Data["businesses"]; ok {
				data["businesses"] = b
			}
			if c, ok := existing.Data["createdAt"]; ok {
				data["createdAt"] = c
			}
		}
		return tx.Set(coll, role, data)
	})
}

// ActiveBusinessByCode finds the active business with linkCode.
func (r *Repository) ActiveBusinessByCode(ctx context.Context, code string) (Business, bool, error) {
	docs, err := r.store.Query(ctx, BusinessesCollection, []docstore.Filter{
		docstore.Where("linkCode", code),
		docstore.Where("status", StatusActive),
	}, 1)
	if err != nil {
		return Business{}, false, err
	}
	if len(docs) == 0 {
		return Business{}, false, nil
	}
	var b Business
	if err := docs[0].DataTo(&b); err != nil {
		return Business{}, false, err
	}
	b.ID = docs[0].ID
	return b, true, nil
}

// PutBusiness creates or replaces a business.
func (r *Repository) PutBusiness(ctx context.Context, b Business) error {
	if b.ID == "" {
		return errors.New("account: business id is required")
	}
	professionals := b.Professionals
	if professionals == nil {
		professionals = []string{}
	}
	return r.store.Set(ctx, BusinessesCollection, b.ID, map[string]any{
		"name":          b.Name,
		"linkCode":      b.LinkCode,
		"status":        b.Status,
		"professionals": professionals,
		"updatedAt":     docstore.ServerTimestamp,
	})
}

// Business loads a business by id.
func (r *Repository) Business(ctx context.Context, id string) (Business, bool, error) {
	doc, err := r.store.Get(ctx, BusinessesCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Business{}, false, nil
	}
	if err != nil {
		return Business{}, false, err
	}
	var b Business
	if err := doc.DataTo(&b); err != nil {
		return Business{}, false, err
	}
	b.ID = id
	return b, true, nil
}

// LinkProfessional adds the business to the professional profile of l.ProfessionalID,
// adds the professional to the business, and appends the historical link record, all in
// one transaction. The membership check runs inside the same transaction, so concurrent
// duplicate requests yield one link and ErrAlreadyLinked for the rest. It returns the id
// of the link record.
func (r *Repository) LinkProfessional(ctx context.Context, l Link) (string, error) {
	uid, businessID := l.ProfessionalID, l.BusinessID
	coll := ProfilesCollection(uid)
	var linkID string
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, BusinessesCollection, businessID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrBusinessNotFound, businessID)
			}
			return err
		}
		doc, err := tx.Get(ctx, coll, "professional")
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrProfileNotFound, uid)
			}
			return err
		}
		if Profile(doc.Data).LinkedTo(businessID) {
			return ErrAlreadyLinked
		}
		if err := tx.Update(coll, "professional", map[string]any{
			"businesses": docstore.ArrayUnion(businessID),
			"updatedAt":  docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		if err := tx.Update(BusinessesCollection, businessID, map[string]any{
			"professionals": docstore.ArrayUnion(uid),
			"updatedAt":     docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		linkID = ids.New()
		return tx.Create(LinksCollection, linkID, linkRecord(l))
	})
	if err != nil {
		return "", err
	}
	return linkID, nil
}

func linkRecord(l Link) map[string]any {
	return map[string]any{
		"businessId":     l.BusinessID,
		"professionalId": l.ProfessionalID,
		"businessName":   l.BusinessName,
		"linkCode":       l.LinkCode,
		"status":         StatusActive,
		"linkedAt":       docstore.ServerTimestamp,
	}
}
