// Package store defines the persistence interfaces for the platform's
// records. The postgres subpackage provides the production implementation;
// services depend only on these interfaces so handler tests can use fakes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/appmantle/appmantle/pkg/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DevStore persists developer accounts and their key material.
type DevStore interface {
	CreateDev(ctx context.Context, dev *model.Dev) error
	GetDevByID(ctx context.Context, id int64) (*model.Dev, error)
	GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error)
	GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error)
	UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByPasswordConfirmationToken(ctx context.Context, token string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	DeleteUser(ctx context.Context, id int64) error

	// Uniqueness checks are case-insensitive and exclude the given user ID
	// (zero to include everyone).
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error)

	CountUsers(ctx context.Context) (total int64, confirmed int64, err error)
}

// AppStore persists apps and user-app associations.
type AppStore interface {
	GetAppByID(ctx context.Context, id int64) (*model.App, error)
	GetUserApp(ctx context.Context, userID, appID int64) (*model.UserApp, error)
	CreateUserApp(ctx context.Context, userApp *model.UserApp) error
	DeleteUserApp(ctx context.Context, userID, appID int64) error
	ListUserApps(ctx context.Context, userID int64) ([]*model.UserApp, error)
}

// SessionStore persists device sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSessionByID(ctx context.Context, id int64) (*model.Session, error)
	DeleteSession(ctx context.Context, id int64) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	CountActiveSessions(ctx context.Context, now time.Time) (int64, error)
}

// ArchiveStore persists data export archives and their parts.
type ArchiveStore interface {
	CreateArchive(ctx context.Context, archive *model.Archive) error
	GetArchiveByID(ctx context.Context, id int64) (*model.Archive, error)
	MarkArchiveCompleted(ctx context.Context, id int64) error
	DeleteArchive(ctx context.Context, id int64) error
	DeleteArchivesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	CreateArchivePart(ctx context.Context, part *model.ArchivePart) error
	GetArchivePartByID(ctx context.Context, id int64) (*model.ArchivePart, error)
	ListArchiveParts(ctx context.Context, archiveID int64) ([]*model.ArchivePart, error)
}
