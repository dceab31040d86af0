package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTaken = errors.New("email taken")

// userTable is an in-memory users table.
type userTable struct {
	mu     sync.Mutex
	rows   map[int]model.User
	nextID int
	inUse  map[int]bool
}

func newUserTable() *userTable {
	return &userTable{rows: map[int]model.User{}, inUse: map[int]bool{}}
}

func (t *userTable) GetByID(_ context.Context, id int) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &u, nil
}

func (t *userTable) GetByEmail(_ context.Context, email string) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.rows {
		if u.Email == strings.ToLower(email) {
			return &u, nil
		}
	}
	return nil, model.ErrNotFound
}

func (t *userTable) Create(_ context.Context, u *model.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cur := range t.rows {
		if cur.Email == u.Email {
			return errTaken
		}
	}
	t.nextID++
	u.ID = t.nextID
	t.rows[u.ID] = *u
	return nil
}

func (t *userTable) UpdatePassword(_ context.Context, id int, hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	u.PasswordHash = hash
	t.rows[id] = u
	return nil
}

func (t *userTable) UpdateProfile(_ context.Context, u *model.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.rows[u.ID]
	if !ok {
		return model.ErrNotFound
	}
	for id, other := range t.rows {
		if id != u.ID && other.Email == u.Email {
			return errTaken
		}
	}
	cur.DisplayName, cur.Email = u.DisplayName, u.Email
	t.rows[u.ID] = cur
	return nil
}

func (t *userTable) Delete(_ context.Context, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return model.ErrNotFound
	}
	if t.inUse[id] {
		return errors.New("user still authors exams")
	}
	delete(t.rows, id)
	return nil
}

func (t *userTable) ListPaginated(context.Context, model.Role, int, int) ([]model.User, int, error) {
	return nil, 0, nil
}

func newUserService(t *testing.T, rdb redis.Cmdable, registration bool) (*UserService, *userTable) {
	t.Helper()
	users := newUserTable()
	auth := NewAuthService(testAuthConfig(), rdb, users)
	return NewUserService(users, auth, registration), users
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, users := newUserService(t, nil, true)
	u, err := svc.Create(ctx, &model.CreateUserRequest{Email: "ada@example.com", DisplayName: "Ada", Password: "first-pass", Role: model.RoleStudent})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, u.ID, &model.UpdateProfileRequest{DisplayName: "  Ada L. "})
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", updated.DisplayName)
	assert.Equal(t, "ada@example.com", updated.Email)

	_, err = svc.UpdateProfile(ctx, u.ID, &model.UpdateProfileRequest{
		DisplayName: "Ada", Password: "second-pass", CurrentPassword: "wrong-pass",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	stored, _ := users.GetByID(ctx, u.ID)
	assert.Equal(t, "Ada L.", stored.DisplayName)
	require.NoError(t, svc.auth.CheckPassword(stored.PasswordHash, "first-pass"))

	_, err = svc.UpdateProfile(ctx, u.ID, &model.UpdateProfileRequest{
		DisplayName: "Ada", Email: "ada@lovelace.dev", Password: "second-pass", CurrentPassword: "first-pass",
	})
	require.NoError(t, err)
	stored, _ = users.GetByID(ctx, u.ID)
	assert.Equal(t, "ada@lovelace.dev", stored.Email)
	assert.NoError(t, svc.auth.CheckPassword(stored.PasswordHash, "second-pass"))

	_, err = svc.UpdateProfile(ctx, 99, &model.UpdateProfileRequest{DisplayName: "Nobody"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateProfileDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t, nil, true)
	_, err := svc.Create(ctx, &model.CreateUserRequest{Email: "a@example.com", DisplayName: "A", Password: "secret1", Role: model.RoleStudent})
	require.NoError(t, err)
	b, err := svc.Create(ctx, &model.CreateUserRequest{Email: "b@example.com", DisplayName: "B", Password: "secret1", Role: model.RoleStudent})
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, b.ID, &model.UpdateProfileRequest{DisplayName: "B", Email: "a@example.com"})
	assert.ErrorIs(t, err, errTaken)
}

func TestRegisterClosed(t *testing.T) {
	svc, users := newUserService(t, nil, false)

	_, err := svc.Register(context.Background(), &model.RegisterRequest{Email: "s@example.com", DisplayName: "Sam", Password: "secret1"})
	assert.ErrorIs(t, err, ErrRegistrationClosed)
	assert.Empty(t, users.rows)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t, nil, true)
	_, err := svc.Create(ctx, &model.CreateUserRequest{Email: "s@example.com", DisplayName: "Sam", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &model.RegisterRequest{Email: "s@example.com", DisplayName: "Sam", Password: "secret1"})
	assert.ErrorIs(t, err, errTaken)
}

func TestDeleteUserKeepsSessionOnFailure(t *testing.T) {
	ctx := context.Background()
	svc, users := newUserService(t, nil, true)
	u, err := svc.Create(ctx, &model.CreateUserRequest{Email: "g@example.com", DisplayName: "Grace", Password: "secret1", Role: model.RoleAdmin})
	require.NoError(t, err)
	users.inUse[u.ID] = true

	assert.Error(t, svc.Delete(ctx, u.ID))
	assert.ErrorIs(t, svc.Delete(ctx, 99), model.ErrNotFound)
	_, err = users.GetByID(ctx, u.ID)
	assert.NoError(t, err)
}

func TestRegisterAndDeleteWithRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	svc, _ := newUserService(t, rdb, true)

	res, err := svc.Register(ctx, &model.RegisterRequest{Email: "new@example.com", DisplayName: " Newcomer ", Password: "secret1"})
	require.NoError(t, err)
	t.Cleanup(func() { svc.auth.Logout(ctx, res.User.ID) })
	assert.Equal(t, model.RoleStudent, res.User.Role)
	assert.Equal(t, "Newcomer", res.User.DisplayName)

	claims, err := svc.auth.ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	require.NoError(t, svc.auth.ValidateSession(ctx, res.User.ID, claims.ID))

	require.NoError(t, svc.Delete(ctx, res.User.ID))
	assert.ErrorIs(t, svc.auth.ValidateSession(ctx, res.User.ID, claims.ID), ErrSessionInvalidated)
}
