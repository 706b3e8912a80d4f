package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"salonbook.app/internal/docstore"
)

// UserInfo is what the identity provider knows about an account.
type UserInfo struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// Directory looks accounts up by id. Unknown ids yield ErrUserNotFound.
type Directory interface {
	LookupUser(ctx context.Context, uid string) (UserInfo, error)
}

// IdentitiesCollection holds self-hosted accounts for StoreDirectory.
const IdentitiesCollection = "identities"

// StoreDirectory reads accounts from the identities collection of a document store.
type StoreDirectory struct {
	store docstore.Store
}

var _ Directory = (*StoreDirectory)(nil)

// NewStoreDirectory builds a StoreDirectory.
func NewStoreDirectory(store docstore.Store) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) LookupUser(ctx context.Context, uid string) (UserInfo, error) {
	doc, err := d.store.Get(ctx, IdentitiesCollection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return UserInfo{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	if err != nil {
		return UserInfo{}, err
	}
	var info UserInfo
	if err := doc.DataTo(&info); err != nil {
		return UserInfo{}, err
	}
	info.UID = uid
	return info, nil
}

// Register creates or replaces an account.
func (d *StoreDirectory) Register(ctx context.Context, info UserInfo) error {
	if strings.TrimSpace(info.UID) == "" {
		return errors.New("auth: uid is required")
	}
	return d.store.Set(ctx, IdentitiesCollection, info.UID, map[string]any{
		"uid":         info.UID,
		"email":       info.Email,
		"displayName": info.DisplayName,
		"photoURL":    info.PhotoURL,
		"disabled":    info.Disabled,
		"updatedAt":   docstore.ServerTimestamp,
	})
}

// IdentityToolkitDirectory asks the Google Identity Toolkit for account details.
type IdentityToolkitDirectory struct {
	svc *identitytoolkit.Service
}

var _ Directory = (*IdentityToolkitDirectory)(nil)

// NewIdentityToolkitDirectory builds the client. Credentials come from opts or the
// application default credentials.
func NewIdentityToolkitDirectory(ctx context.Context, opts ...option.ClientOption) (*IdentityToolkitDirectory, error) {
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: identity toolkit client: %w", err)
	}
	return &IdentityToolkitDirectory{svc: svc}, nil
}

func (d *IdentityToolkitDirectory) LookupUser(ctx context.Context, uid string) (UserInfo, error) {
	resp, err := d.svc.Relyingparty.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		LocalId: []string{uid},
	}).Context(ctx).Do()
	if err != nil {
		return UserInfo{}, fmt.Errorf("auth: get account info: %w", err)
	}
	for _, u := range resp.Users {
		if u == nil || u.LocalId != uid {
			continue
		}
		return UserInfo{
			UID:         u.LocalId,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			PhotoURL:    u.PhotoUrl,
			Disabled:    u.Disabled,
		}, nil
	}
	return UserInfo{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
}

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]UserInfo
	err   error
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory seeds a directory with users.
func NewMemoryDirectory(users ...UserInfo) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]UserInfo, len(users))}
	for _, u := range users {
		d.users[u.UID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *MemoryDirectory) Put(u UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UID] = u
}

// FailWith makes every lookup return err until cleared with nil.
func (d *MemoryDirectory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *MemoryDirectory) LookupUser(_ context.Context, uid string) (UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return UserInfo{}, d.err
	}
	u, ok := d.users[uid]
	if !ok {
		return UserInfo{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	return u, nil
}
