// Package model defines the platform's core records: developers, users,
// apps, sessions, and data export archives.
package model

import "time"

// Plan identifies a subscription tier.
type Plan int

const (
	PlanFree Plan = 0
	PlanPlus Plan = 1
	PlanPro  Plan = 2
)

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	return p >= PlanFree && p <= PlanPro
}

func (p Plan) String() string {
	switch p {
	case PlanFree:
		return "free"
	case PlanPlus:
		return "plus"
	case PlanPro:
		return "pro"
	default:
		return "unknown"
	}
}

// Storage quotas in bytes. Unconfirmed accounts are capped regardless of
// plan until the email is verified.
const (
	StorageUnconfirmed = int64(1) * 1024 * 1024 * 1024
	StorageFree        = int64(5) * 1024 * 1024 * 1024
	StoragePlus        = int64(50) * 1024 * 1024 * 1024
	StoragePro         = int64(100) * 1024 * 1024 * 1024
)

// TotalStorage returns the storage quota for a plan and confirmation state.
func TotalStorage(plan Plan, confirmed bool) int64 {
	if !confirmed {
		return StorageUnconfirmed
	}
	switch plan {
	case PlanPlus:
		return StoragePlus
	case PlanPro:
		return StoragePro
	default:
		return StorageFree
	}
}

// SubscriptionStatus tracks the billing state of a paid plan.
type SubscriptionStatus int

const (
	SubscriptionActive SubscriptionStatus = 0
	SubscriptionEnding SubscriptionStatus = 1
)

// Dev is a registered developer account. API key material is issued once
// at creation and only changes through an explicit rotation.
type Dev struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	APIKey    string    `json:"api_key"`
	SecretKey string    `json:"-"`
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an end-user account reachable through any dev's app.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	PasswordDigest string `json:"-"`
	Confirmed      bool   `json:"confirmed"`

	// Pending two-phase changes. NewPasswordDigest holds the bcrypt digest
	// of a requested password until the confirmation token is redeemed;
	// OldEmail allows reverting a completed email change.
	NewEmail          string `json:"-"`
	OldEmail          string `json:"-"`
	NewPasswordDigest string `json:"-"`

	EmailConfirmationToken    string `json:"-"`
	PasswordConfirmationToken string `json:"-"`

	Plan                 Plan               `json:"plan"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	PeriodEnd            *time.Time         `json:"period_end,omitempty"`
	PaymentCustomerID    string             `json:"-"`
	UsedStorage          int64              `json:"used_storage"`
	LastActive           *time.Time         `json:"last_active,omitempty"`
	AvatarEtag           string             `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalStorage returns the user's current quota.
func (u *User) TotalStorage() int64 {
	return TotalStorage(u.Plan, u.Confirmed)
}

// App is an application registered by a dev.
type App struct {
	ID          int64     `json:"id"`
	DevID       int64     `json:"dev_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BelongsTo reports whether the app is owned by the given dev.
func (a *App) BelongsTo(dev *Dev) bool {
	return dev != nil && a.DevID == dev.ID
}

// UserApp is the association between a user and an app they use, with the
// per-app share of the user's consumed storage.
type UserApp struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	AppID       int64     `json:"app_id"`
	UsedStorage int64     `json:"used_storage"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session is a device-bound login issued through a first-party client.
type Session struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	AppID      int64     `json:"app_id"`
	Exp        time.Time `json:"exp"`
	DeviceName string    `json:"device_name"`
	DeviceType string    `json:"device_type"`
	DeviceOS   string    `json:"device_os"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Expired reports whether the session's lifetime has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.Exp.IsZero() && now.After(s.Exp)
}

// Archive is a user data export job.
type Archive struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArchivePart is one uploaded chunk of a completed archive.
type ArchivePart struct {
	ID        int64     `json:"id"`
	ArchiveID int64     `json:"archive_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
