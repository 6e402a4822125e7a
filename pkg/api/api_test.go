package api

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/appmantle/appmantle/pkg/app"
	"github.com/appmantle/appmantle/pkg/archive"
	"github.com/appmantle/appmantle/pkg/async"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/billing"
	"github.com/appmantle/appmantle/pkg/config"
	"github.com/appmantle/appmantle/pkg/dev"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/notify"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/session"
	"github.com/appmantle/appmantle/pkg/store"
	"github.com/appmantle/appmantle/pkg/user"
)

const (
	firstPartyDevID = int64(1)
	thirdPartyDevID = int64(2)

	seedUserID   = int64(10)
	seedEmail    = "user@example.com"
	seedPassword = "hunter2pass"
)

// fakeStore backs all store interfaces for handler tests. A single mutex
// covers every map; the archive export worker writes from its own
// goroutine.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	devs     map[int64]*model.Dev
	apps     map[int64]*model.App
	userApps map[[2]int64]*model.UserApp
	sessions map[int64]*model.Session
	archives map[int64]*model.Archive
	parts    map[int64]*model.ArchivePart
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*model.User),
		devs:     make(map[int64]*model.Dev),
		apps:     make(map[int64]*model.App),
		userApps: make(map[[2]int64]*model.UserApp),
		sessions: make(map[int64]*model.Session),
		archives: make(map[int64]*model.Archive),
		parts:    make(map[int64]*model.ArchivePart),
		nextID:   100,
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUser(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.id()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByPasswordConfirmationToken(ctx context.Context, token string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if token != "" && u.PasswordConfirmationToken == token {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateUser(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total, confirmed int64
	for _, u := range f.users {
		total++
		if u.Confirmed {
			confirmed++
		}
	}
	return total, confirmed, nil
}

func (f *fakeStore) CreateDev(ctx context.Context, d *model.Dev) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = f.id()
	f.devs[d.ID] = d
	return nil
}

func (f *fakeStore) GetDevByID(ctx context.Context, id int64) (*model.Dev, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devs[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devs {
		if d.APIKey == apiKey {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devs {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devs[id]
	if !ok {
		return store.ErrNotFound
	}
	d.APIKey, d.SecretKey, d.UUID = apiKey, secretKey, devUUID
	return nil
}

func (f *fakeStore) GetAppByID(ctx context.Context, id int64) (*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.apps[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserApp(ctx context.Context, userID, appID int64) (*model.UserApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ua, ok := f.userApps[[2]int64{userID, appID}]; ok {
		return ua, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateUserApp(ctx context.Context, ua *model.UserApp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userApps[[2]int64{ua.UserID, ua.AppID}] = ua
	return nil
}

func (f *fakeStore) DeleteUserApp(ctx context.Context, userID, appID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.userApps, [2]int64{userID, appID})
	return nil
}

func (f *fakeStore) ListUserApps(ctx context.Context, userID int64) ([]*model.UserApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.UserApp
	for _, ua := range f.userApps {
		if ua.UserID == userID {
			out = append(out, ua)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.id()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSessionByID(ctx context.Context, id int64) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeleteSession(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeStore) CreateArchive(ctx context.Context, a *model.Archive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = f.id()
	f.archives[a.ID] = a
	return nil
}

func (f *fakeStore) GetArchiveByID(ctx context.Context, id int64) (*model.Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.archives[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) MarkArchiveCompleted(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.archives[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Completed = true
	return nil
}

func (f *fakeStore) DeleteArchive(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.archives[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.archives, id)
	for partID, part := range f.parts {
		if part.ArchiveID == id {
			delete(f.parts, partID)
		}
	}
	return nil
}

func (f *fakeStore) DeleteArchivesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) CreateArchivePart(ctx context.Context, part *model.ArchivePart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	part.ID = f.id()
	f.parts[part.ID] = part
	return nil
}

func (f *fakeStore) GetArchivePartByID(ctx context.Context, id int64) (*model.ArchivePart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if part, ok := f.parts[id]; ok {
		return part, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListArchiveParts(ctx context.Context, archiveID int64) ([]*model.ArchivePart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ArchivePart
	for _, part := range f.parts {
		if part.ArchiveID == archiveID {
			out = append(out, part)
		}
	}
	return out, nil
}

func (f *fakeStore) archiveCompleted(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.archives[id]
	return ok && a.Completed
}

type fakeBlobs struct{}

func (fakeBlobs) PutAvatar(ctx context.Context, userID int64, content []byte, contentType string) (string, error) {
	return "etag-test", nil
}

func (fakeBlobs) GetAvatar(ctx context.Context, userID int64) (io.ReadCloser, error) {
	return nil, store.ErrNotFound
}

func (fakeBlobs) DeleteAvatar(ctx context.Context, userID int64) error { return nil }

func (fakeBlobs) AvatarURL(userID int64) string { return "https://blobs.test/avatar" }

func (fakeBlobs) PutArchivePart(ctx context.Context, userID int64, name string, content []byte) (string, error) {
	return "https://blobs.test/archives/" + name, nil
}

func (fakeBlobs) DeleteUserObjects(ctx context.Context, userID int64) error { return nil }

type nopMailer struct{}

func (nopMailer) Send(ctx context.Context, msg notify.Message) error { return nil }

type testServer struct {
	srv    *Server
	store  *fakeStore
	issuer *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fs := newFakeStore()

	digest, err := auth.HashPassword(seedPassword)
	require.NoError(t, err)
	fs.users[seedUserID] = &model.User{
		ID: seedUserID, Email: seedEmail, Username: "franz",
		PasswordDigest: digest, Confirmed: true,
	}
	fs.devs[firstPartyDevID] = &model.Dev{
		ID: firstPartyDevID, APIKey: "firstkey", SecretKey: "firstsecret", UUID: "first-uuid",
	}
	fs.devs[thirdPartyDevID] = &model.Dev{
		ID: thirdPartyDevID, UserID: seedUserID, APIKey: "thirdkey", SecretKey: "thirdsecret", UUID: "third-uuid",
	}
	fs.apps[5] = &model.App{ID: 5, DevID: thirdPartyDevID, Name: "Notes"}

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	engine := policy.NewEngine(firstPartyDevID)
	notifier := notify.NewDispatcher(nopMailer{}, logger, metrics)
	blobs := fakeBlobs{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := async.NewWorkerPool(ctx, 1, "export", 5*time.Second, logger)
	t.Cleanup(func() { pool.Shutdown(time.Second) })

	deps := Deps{
		Users: user.NewService(fs, fs, fs, fs, issuer, engine, notifier, blobs,
			billing.NewLocalProvider(logger), logger, metrics),
		Sessions: session.NewService(fs, fs, fs, fs, issuer, engine, logger, metrics),
		Devs:     dev.NewService(fs, fs, logger, metrics),
		Apps:     app.NewService(fs, fs, fs, engine, notifier, logger, metrics),
		Archives: archive.NewService(fs, fs, fs, blobs, engine, pool, logger, metrics),
		DevStore: fs,
		Issuer:   issuer,
		Logger:   logger,
		Metrics:  metrics,
	}

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		config.RateLimitConfig{Enabled: false}, deps)
	return &testServer{srv: srv, store: fs, issuer: issuer}
}

// devAuth builds the auth parameter value for a seeded dev.
func (ts *testServer) devAuth(devID int64) string {
	d := ts.store.devs[devID]
	return d.APIKey + "," + auth.Signature(d.SecretKey, d.UUID)
}

// userJWT issues a token for the seeded user bound to the given dev.
func (ts *testServer) userJWT(t *testing.T, devID int64) string {
	t.Helper()
	token, err := ts.issuer.Issue(ts.store.users[seedUserID], devID, 0)
	require.NoError(t, err)
	return token
}

// do runs a request through the full router and returns the recorder.
func (ts *testServer) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, val := range header {
		req.Header.Set(key, val)
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func jsonHeader() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
