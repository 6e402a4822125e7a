package user

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/billing"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/notify"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

const (
	firstPartyDevID = int64(1)
	thirdPartyDevID = int64(2)

	seedUserID   = int64(10)
	seedPassword = "hunter2pass"
)

type fakeStore struct {
	users    map[int64]*model.User
	devs     map[int64]*model.Dev
	apps     map[int64]*model.App
	sessions map[int64]*model.Session
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*model.User),
		devs:     make(map[int64]*model.Dev),
		apps:     make(map[int64]*model.App),
		sessions: make(map[int64]*model.Session),
		nextID:   100,
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, user *model.User) error {
	f.nextID++
	user.ID = f.nextID
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByPasswordConfirmationToken(ctx context.Context, token string) (*model.User, error) {
	for _, u := range f.users {
		if token != "" && u.PasswordConfirmationToken == token {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateUser(ctx context.Context, user *model.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	for _, u := range f.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	for _, u := range f.users {
		if u.Username == username && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int64, int64, error) {
	var total, confirmed int64
	for _, u := range f.users {
		total++
		if u.Confirmed {
			confirmed++
		}
	}
	return total, confirmed, nil
}

func (f *fakeStore) CreateDev(ctx context.Context, dev *model.Dev) error {
	f.nextID++
	dev.ID = f.nextID
	f.devs[dev.ID] = dev
	return nil
}

func (f *fakeStore) GetDevByID(ctx context.Context, id int64) (*model.Dev, error) {
	if d, ok := f.devs[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error) {
	for _, d := range f.devs {
		if d.APIKey == apiKey {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error) {
	for _, d := range f.devs {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error {
	d, ok := f.devs[id]
	if !ok {
		return store.ErrNotFound
	}
	d.APIKey, d.SecretKey, d.UUID = apiKey, secretKey, devUUID
	return nil
}

func (f *fakeStore) GetAppByID(ctx context.Context, id int64) (*model.App, error) {
	if a, ok := f.apps[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserApp(ctx context.Context, userID, appID int64) (*model.UserApp, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateUserApp(ctx context.Context, userApp *model.UserApp) error {
	return nil
}

func (f *fakeStore) DeleteUserApp(ctx context.Context, userID, appID int64) error {
	return store.ErrNotFound
}

func (f *fakeStore) ListUserApps(ctx context.Context, userID int64) ([]*model.UserApp, error) {
	return nil, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, session *model.Session) error {
	f.nextID++
	session.ID = f.nextID
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) GetSessionByID(ctx context.Context, id int64) (*model.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeleteSession(ctx context.Context, id int64) error {
	if _, ok := f.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) CountActiveSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeBlobs struct {
	avatars      map[int64]string
	deletedUsers []int64
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{avatars: make(map[int64]string)}
}

func (b *fakeBlobs) PutAvatar(ctx context.Context, userID int64, content []byte, contentType string) (string, error) {
	b.avatars[userID] = contentType
	return "etag-test", nil
}

func (b *fakeBlobs) GetAvatar(ctx context.Context, userID int64) (io.ReadCloser, error) {
	return nil, store.ErrNotFound
}

func (b *fakeBlobs) DeleteAvatar(ctx context.Context, userID int64) error {
	delete(b.avatars, userID)
	return nil
}

func (b *fakeBlobs) AvatarURL(userID int64) string {
	return "https://blobs.test/avatars/avatar"
}

func (b *fakeBlobs) PutArchivePart(ctx context.Context, userID int64, name string, content []byte) (string, error) {
	return "https://blobs.test/archives/" + name, nil
}

func (b *fakeBlobs) DeleteUserObjects(ctx context.Context, userID int64) error {
	b.deletedUsers = append(b.deletedUsers, userID)
	delete(b.avatars, userID)
	return nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) received(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.sent {
		if msg.Kind == kind {
			return true
		}
	}
	return false
}

func (m *recordingMailer) lastTo(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i].To
		}
	}
	return ""
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeBlobs, *recordingMailer) {
	fs := newFakeStore()

	digest, err := auth.HashPassword(seedPassword)
	require.NoError(t, err)
	fs.users[seedUserID] = &model.User{
		ID: seedUserID, Email: "user@example.com", Username: "franz",
		PasswordDigest: digest, Confirmed: true,
	}
	fs.devs[firstPartyDevID] = &model.Dev{ID: firstPartyDevID, APIKey: "firstkey"}
	fs.devs[thirdPartyDevID] = &model.Dev{ID: thirdPartyDevID, APIKey: "thirdkey"}
	fs.apps[5] = &model.App{ID: 5, DevID: thirdPartyDevID, Name: "Notes"}

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	engine := policy.NewEngine(firstPartyDevID)
	mailer := &recordingMailer{}
	notifier := notify.NewDispatcher(mailer, logger, metrics)
	blobs := newFakeBlobs()
	provider := billing.NewLocalProvider(logger)

	svc := NewService(fs, fs, fs, fs, issuer, engine, notifier, blobs, provider, logger, metrics)
	return svc, fs, blobs, mailer
}

func ownerClaims() *auth.Claims {
	return &auth.Claims{UserID: seedUserID, DevID: firstPartyDevID}
}

func TestSignup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an unconfirmed account and sends verification", func(t *testing.T) {
		svc, fs, _, mailer := newTestService(t)

		result, errs := svc.Signup(ctx, fs.devs[firstPartyDevID], SignupInput{
			Email: "new@example.com", Username: "newuser", Password: "secret7pw",
		})
		require.True(t, errs.Empty())
		assert.NotEmpty(t, result.JWT)
		assert.False(t, result.User.Confirmed)
		assert.NotEmpty(t, result.User.EmailConfirmationToken)
		assert.Equal(t, model.PlanFree, result.User.Plan)
		assert.Zero(t, result.SessionID)

		issuer := auth.NewTokenIssuer("test-secret", time.Hour)
		claims, perrs := issuer.Parse(result.JWT)
		require.True(t, perrs.Empty())
		assert.Equal(t, firstPartyDevID, claims.DevID)
		assert.Equal(t, result.User.ID, claims.UserID)

		assert.Eventually(t, func() bool {
			return mailer.received(notify.KindVerification)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("third party dev denied", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Signup(ctx, fs.devs[thirdPartyDevID], SignupInput{
			Email: "new@example.com", Username: "newuser", Password: "secret7pw",
		})
		assert.True(t, errs.Has(apierr.ActionNotAllowed))
	})

	t.Run("collects all field errors", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Signup(ctx, fs.devs[firstPartyDevID], SignupInput{
			Email: "not-an-email", Username: "a", Password: "short",
		})
		assert.True(t, errs.Has(apierr.EmailInvalid))
		assert.True(t, errs.Has(apierr.UsernameTooShort))
		assert.True(t, errs.Has(apierr.PasswordTooShort))
		assert.Equal(t, 3, errs.Len())
	})

	t.Run("taken email and username reported together", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Signup(ctx, fs.devs[firstPartyDevID], SignupInput{
			Email: "user@example.com", Username: "franz", Password: "secret7pw",
		})
		assert.True(t, errs.Has(apierr.EmailTaken))
		assert.True(t, errs.Has(apierr.UsernameTaken))
	})

	t.Run("device block creates a session bound to the target dev", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		result, errs := svc.Signup(ctx, fs.devs[firstPartyDevID], SignupInput{
			Email: "new@example.com", Username: "newuser", Password: "secret7pw",
			APIKey: "thirdkey", AppID: 5,
			DeviceName: "Pixel", DeviceType: "phone", DeviceOS: "android",
		})
		require.True(t, errs.Empty())
		require.NotZero(t, result.SessionID)

		issuer := auth.NewTokenIssuer("test-secret", time.Hour)
		claims, perrs := issuer.Parse(result.JWT)
		require.True(t, perrs.Empty())
		assert.Equal(t, thirdPartyDevID, claims.DevID)
		assert.Equal(t, result.SessionID, claims.SessionID)

		session := fs.sessions[result.SessionID]
		require.NotNil(t, session)
		assert.Equal(t, result.User.ID, session.UserID)
		assert.Equal(t, int64(5), session.AppID)
	})

	t.Run("app not owned by target dev", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Signup(ctx, fs.devs[firstPartyDevID], SignupInput{
			Email: "new@example.com", Username: "newuser", Password: "secret7pw",
			APIKey: "firstkey", AppID: 5,
			DeviceName: "Pixel", DeviceType: "phone", DeviceOS: "android",
		})
		assert.True(t, errs.Has(apierr.ActionNotAllowed))
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a token and records activity", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		result, errs := svc.Login(ctx, fs.devs[firstPartyDevID], "user@example.com", seedPassword)
		require.True(t, errs.Empty())
		assert.NotEmpty(t, result.JWT)
		assert.Equal(t, seedUserID, result.UserID)
		assert.NotNil(t, fs.users[seedUserID].LastActive)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Login(ctx, fs.devs[firstPartyDevID], "user@example.com", "wrong-password")
		assert.True(t, errs.Has(apierr.PasswordIncorrect))
	})

	t.Run("unconfirmed user", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)
		fs.users[seedUserID].Confirmed = false

		_, errs := svc.Login(ctx, fs.devs[firstPartyDevID], "user@example.com", seedPassword)
		assert.True(t, errs.Has(apierr.UserNotConfirmed))
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		_, errs := svc.Login(ctx, fs.devs[firstPartyDevID], "nobody@example.com", seedPassword)
		assert.True(t, errs.Has(apierr.UserNotFound))
	})
}

func TestLoginByJWT(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps the token onto the named dev", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, errs := svc.LoginByJWT(ctx, ownerClaims(), "thirdkey")
		require.True(t, errs.Empty())

		issuer := auth.NewTokenIssuer("test-secret", time.Hour)
		claims, perrs := issuer.Parse(result.JWT)
		require.True(t, perrs.Empty())
		assert.Equal(t, thirdPartyDevID, claims.DevID)
		assert.Equal(t, seedUserID, claims.UserID)
	})

	t.Run("third party token denied", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		claims := &auth.Claims{UserID: seedUserID, DevID: thirdPartyDevID}

		_, errs := svc.LoginByJWT(ctx, claims, "firstkey")
		assert.True(t, errs.Has(apierr.ActionNotAllowed))
	})

	t.Run("unknown api key", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, errs := svc.LoginByJWT(ctx, ownerClaims(), "missing")
		assert.True(t, errs.Has(apierr.DevNotFound))
	})
}

func TestGetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("owner reads their profile", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		profile, errs := svc.GetUser(ctx, ownerClaims(), seedUserID)
		require.True(t, errs.Empty())
		assert.Equal(t, "user@example.com", profile.Email)
		assert.Equal(t, model.StorageFree, profile.TotalStorage)
		assert.NotEmpty(t, profile.Avatar)
	})

	t.Run("unconfirmed accounts get the capped quota", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)
		fs.users[seedUserID].Confirmed = false

		profile, errs := svc.GetUser(ctx, ownerClaims(), seedUserID)
		require.True(t, errs.Empty())
		assert.Equal(t, model.StorageUnconfirmed, profile.TotalStorage)
	})

	t.Run("non-owner denied", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)
		fs.users[11] = &model.User{ID: 11, Email: "other@example.com", Username: "other", Confirmed: true}
		claims := &auth.Claims{UserID: 11, DevID: firstPartyDevID}

		_, errs := svc.GetUser(ctx, claims, seedUserID)
		assert.True(t, errs.Has(apierr.ActionNotAllowed))
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, errs := svc.GetUser(ctx, ownerClaims(), 9999)
		assert.True(t, errs.Has(apierr.UserNotFound))
	})
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("username change applies immediately", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		profile, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Username: "renamed"})
		require.True(t, errs.Empty())
		assert.Equal(t, "renamed", profile.Username)
		assert.Equal(t, "renamed", fs.users[seedUserID].Username)
	})

	t.Run("email change is staged behind a token", func(t *testing.T) {
		svc, fs, _, mailer := newTestService(t)

		profile, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Email: "next@example.com"})
		require.True(t, errs.Empty())
		assert.Equal(t, "user@example.com", profile.Email)

		user := fs.users[seedUserID]
		assert.Equal(t, "next@example.com", user.NewEmail)
		assert.NotEmpty(t, user.EmailConfirmationToken)

		assert.Eventually(t, func() bool {
			return mailer.lastTo(notify.KindEmailChanged) == "next@example.com"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("password change is staged behind a token", func(t *testing.T) {
		svc, fs, _, mailer := newTestService(t)

		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Password: "replacement9"})
		require.True(t, errs.Empty())

		user := fs.users[seedUserID]
		assert.NotEmpty(t, user.NewPasswordDigest)
		assert.NotEmpty(t, user.PasswordConfirmationToken)
		assert.True(t, auth.CheckPassword(user.PasswordDigest, seedPassword))

		assert.Eventually(t, func() bool {
			return mailer.received(notify.KindPasswordChanged)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("unknown plan", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		plan := "9"
		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Plan: &plan})
		assert.True(t, errs.Has(apierr.PlanDoesNotExist))

		plan = "gold"
		_, errs = svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Plan: &plan})
		assert.True(t, errs.Has(apierr.PlanDoesNotExist))
	})

	t.Run("paid plan without payment information", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		plan := "1"
		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Plan: &plan})
		assert.True(t, errs.Has(apierr.PaymentInformationMissing))
	})

	t.Run("paid plan with a payment token", func(t *testing.T) {
		svc, fs, _, _ := newTestService(t)

		plan := "1"
		profile, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Plan: &plan, PaymentToken: "tok_test"})
		require.True(t, errs.Empty())
		assert.Equal(t, model.PlanPlus, profile.Plan)
		assert.NotNil(t, profile.PeriodEnd)
		assert.NotEmpty(t, fs.users[seedUserID].PaymentCustomerID)
	})

	t.Run("avatar upload", func(t *testing.T) {
		svc, fs, blobs, _ := newTestService(t)
		png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))

		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Avatar: png})
		require.True(t, errs.Empty())
		assert.Equal(t, "image/png", blobs.avatars[seedUserID])
		assert.Equal(t, "etag-test", fs.users[seedUserID].AvatarEtag)
	})

	t.Run("avatar must be png or jpeg", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		text := base64.StdEncoding.EncodeToString([]byte("plain text, not an image"))

		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Avatar: text})
		assert.True(t, errs.Has(apierr.FileExtensionNotAllowed))
	})

	t.Run("avatar must be valid base64", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, errs := svc.UpdateUser(ctx, ownerClaims(), UpdateInput{Avatar: "!!!not-base64!!!"})
		assert.True(t, errs.Has(apierr.UnknownValidationError))
	})

	t.Run("third party dev denied", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		claims := &auth.Claims{UserID: seedUserID, DevID: thirdPartyDevID}

		_, errs := svc.UpdateUser(ctx, claims, UpdateInput{Username: "renamed"})
		assert.True(t, errs.Has(apierr.ActionNotAllowed))
	})
}
