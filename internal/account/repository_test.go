package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook.app/internal/docstore"
)

const uid = "abcdefghijklmnopqrstuvwxyz12"

func newRepo(t *testing.T) (*Repository, *docstore.Memory) {
	t.Helper()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	store := docstore.NewMemory(docstore.WithMemoryClock(func() time.Time { return at }))
	return NewRepository(store), store
}

func TestCreateUserAndLoad(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	_, ok, err := repo.User(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := repo.CreateUser(ctx, User{UID: uid, Email: "a@b.com", DisplayName: "Ana", Roles: []string{"client"}, ActiveRole: "client"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", created.DisplayName)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Empty(t, created.PhotoURL)

	_, err = repo.CreateUser(ctx, User{UID: uid, Email: "a@b.com"})
	require.ErrorIs(t, err, docstore.ErrAlreadyExists)
}

func TestEnsureUserRoleAccumulatesRoles(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	created, err := repo.EnsureUserRole(ctx, uid, "a@b.com", "professional")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.EnsureUserRole(ctx, uid, "a@b.com", "owner")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = repo.EnsureUserRole(ctx, uid, "a@b.com", "professional")
	require.NoError(t, err)

	u, ok, err := repo.User(ctx, uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"professional", "owner"}, u.Roles)
	assert.Equal(t, "professional", u.ActiveRole)

	_, err = repo.EnsureUserRole(ctx, uid, "a@b.com", "owner")
	require.NoError(t, err)
	_, err = repo.EnsureUserRole(ctx, uid, "a@b.com", "client")
	require.NoError(t, err)
	u, _, err = repo.User(ctx, uid)
	require.NoError(t, err)
	assert.True(t, u.HasRole("client"))
	assert.Len(t, u.Roles, 3)
}

func TestPutProfileOverwritesButKeepsManagedFields(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)

	require.NoError(t, repo.PutProfile(ctx, uid, "professional", map[string]any{
		"name":      "Jo",
		"phone":     "11999999999",
		"specialty": "Cortes",
		"status":    "suspended",
	}))
	require.NoError(t, store.Set(ctx, ProfilesCollection(uid), "professional", map[string]any{
		"businesses": []string{"b1"},
	}, docstore.MergeAll))

	require.NoError(t, repo.PutProfile(ctx, uid, "professional", map[string]any{
		"name":  "Jo Silva",
		"phone": "11999999999",
	}))

	p, ok, err := repo.Profile(ctx, uid, "professional")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Jo Silva", p["name"])
	assert.NotContains(t, p, "specialty", "full overwrite drops fields not resent")
	assert.Equal(t, StatusActive, p.Status())
	assert.Equal(t, "professional", p["role"])
	assert.Equal(t, []string{"b1"}, p.Businesses())
	assert.Equal(t, []string{"specialty"}, p.MissingFields("professional"))
}

func TestMissingFields(t *testing.T) {
	p := Profile{"name": "Jo", "phone": "  "}
	assert.Equal(t, []string{"phone"}, p.MissingFields("client"))
	assert.Equal(t, []string{"phone", "cpfCnpj"}, p.MissingFields("owner"))
	assert.Empty(t, p.MissingFields("stylist"))
	assert.Equal(t, []string{"name"}, RequiredFields("stylist"))
}

func TestActiveBusinessByCode(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	require.NoError(t, repo.PutBusiness(ctx, Business{ID: "b1", Name: "Salão Bela", LinkCode: "BELA2026", Status: StatusActive}))
	require.NoError(t, repo.PutBusiness(ctx, Business{ID: "b2", Name: "Fechado", LinkCode: "FECHADO1", Status: "inactive"}))

	b, ok, err := repo.ActiveBusinessByCode(ctx, "BELA2026")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, "Salão Bela", b.Name)

	_, ok, err = repo.ActiveBusinessByCode(ctx, "FECHADO1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkProfessional(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	require.NoError(t, repo.PutBusiness(ctx, Business{ID: "b1", Name: "Salão Bela", LinkCode: "BELA2026", Status: StatusActive}))

	link := Link{BusinessID: "b1", ProfessionalID: uid, BusinessName: "Salão Bela", LinkCode: "BELA2026"}

	_, err := repo.LinkProfessional(ctx, link)
	require.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, repo.PutProfile(ctx, uid, "professional", map[string]any{"name": "Jo"}))
	_, err = repo.LinkProfessional(ctx, Link{BusinessID: "nope", ProfessionalID: uid})
	require.ErrorIs(t, err, ErrBusinessNotFound)

	linkID, err := repo.LinkProfessional(ctx, link)
	require.NoError(t, err)
	_, err = repo.LinkProfessional(ctx, link)
	require.ErrorIs(t, err, ErrAlreadyLinked)

	rec, err := store.Get(ctx, LinksCollection, linkID)
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.Data["businessId"])
	assert.Equal(t, "2026-05-04T10:00:00Z", rec.Data["linkedAt"])
	assert.Equal(t, 1, store.Len(LinksCollection))

	b, _, err := repo.Business(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{uid}, b.Professionals)

	p, _, err := repo.Profile(ctx, uid, "professional")
	require.NoError(t, err)
	assert.True(t, p.LinkedTo("b1"))
}

func TestConcurrentLinkingLinksOnce(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	require.NoError(t, repo.PutBusiness(ctx, Business{ID: "b1", Name: "Salão Bela", LinkCode: "BELA2026", Status: StatusActive}))
	require.NoError(t, repo.PutProfile(ctx, uid, "professional", map[string]any{"name": "Jo"}))

	var (
		wg      sync.WaitGroup
		linked  atomic.Int32
		already atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.LinkProfessional(ctx, Link{BusinessID: "b1", ProfessionalID: uid})
			switch {
			case err == nil:
				linked.Add(1)
			case errors.Is(err, ErrAlreadyLinked):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), linked.Load())
	assert.Equal(t, int32(9), already.Load())
	b, _, err := repo.Business(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{uid}, b.Professionals)
	assert.Equal(t, 1, store.Len(LinksCollection))
}
