// Package policy decides whether an authenticated actor may perform an
// action on a resource. Decisions are stateless; the only configuration is
// the identity of the first-party dev.
package policy

import (
	"github.com/appmantle/appmantle/pkg/apierr"
)

// Action names an API operation subject to an authorization rule.
type Action string

const (
	ActionSignup             Action = "signup"
	ActionLogin              Action = "login"
	ActionLoginByJWT         Action = "login_by_jwt"
	ActionGetUser            Action = "get_user"
	ActionUpdateUser         Action = "update_user"
	ActionDeleteUser         Action = "delete_user"
	ActionSendDeleteEmail    Action = "send_delete_account_email"
	ActionCreateSession      Action = "create_session"
	ActionGetSession         Action = "get_session"
	ActionDeleteSession      Action = "delete_session"
	ActionRemoveApp          Action = "remove_app"
	ActionSendRemoveAppEmail Action = "send_remove_app_email"
	ActionCreateArchive      Action = "create_archive"
	ActionGetArchive         Action = "get_archive"
	ActionGetArchivePart     Action = "get_archive_part"
	ActionDeleteArchive      Action = "delete_archive"
)

// Actor is the authenticated triple behind a request. Zero IDs mean the
// corresponding credential was not presented.
type Actor struct {
	DevID     int64
	UserID    int64
	SessionID int64
}

// Resource carries the ownership facts a rule may inspect.
type Resource struct {
	OwnerUserID int64
}

type rule struct {
	firstParty bool
	owner      bool
}

// One row per action. firstParty compares the actor's dev against the
// configured first-party dev; owner compares the actor's user against the
// resource owner. Both may apply.
var rules = map[Action]rule{
	ActionSignup:             {firstParty: true},
	ActionLogin:              {firstParty: false},
	ActionLoginByJWT:         {firstParty: true},
	ActionGetUser:            {owner: true},
	ActionUpdateUser:         {firstParty: true, owner: true},
	ActionDeleteUser:         {firstParty: true, owner: true},
	ActionSendDeleteEmail:    {firstParty: true, owner: true},
	ActionCreateSession:      {firstParty: true},
	ActionGetSession:         {firstParty: true, owner: true},
	ActionDeleteSession:      {firstParty: true, owner: true},
	ActionRemoveApp:          {firstParty: true, owner: true},
	ActionSendRemoveAppEmail: {firstParty: true, owner: true},
	ActionCreateArchive:      {firstParty: true, owner: true},
	ActionGetArchive:         {firstParty: true, owner: true},
	ActionGetArchivePart:     {firstParty: true, owner: true},
	ActionDeleteArchive:      {firstParty: true, owner: true},
}

// Engine evaluates the rule table.
type Engine struct {
	firstPartyDevID int64
}

// NewEngine creates an engine bound to the configured first-party dev.
func NewEngine(firstPartyDevID int64) *Engine {
	return &Engine{firstPartyDevID: firstPartyDevID}
}

// FirstParty reports whether the dev is the platform's own client.
func (e *Engine) FirstParty(devID int64) bool {
	return devID != 0 && devID == e.firstPartyDevID
}

// Decide returns nil when the actor may perform the action, otherwise an
// error list carrying the denial. Unknown actions deny.
func (e *Engine) Decide(action Action, actor Actor, resource Resource) *apierr.List {
	r, ok := rules[action]
	if !ok {
		return apierr.New(apierr.ActionNotAllowed)
	}
	if r.firstParty && !e.FirstParty(actor.DevID) {
		return apierr.New(apierr.ActionNotAllowed)
	}
	if r.owner && (actor.UserID == 0 || actor.UserID != resource.OwnerUserID) {
		return apierr.New(apierr.ActionNotAllowed)
	}
	return nil
}
