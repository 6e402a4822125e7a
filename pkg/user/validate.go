package user

import (
	"regexp"

	"github.com/appmantle/appmantle/pkg/apierr"
)

const (
	minUsernameLength = 2
	maxUsernameLength = 25
	minPasswordLength = 7
	maxPasswordLength = 25
)

var emailRegexp = regexp.MustCompile(`^[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

func validEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

// validatePassword appends length violations to errs.
func validatePassword(errs *apierr.List, password string) {
	if len(password) < minPasswordLength {
		errs.Add(apierr.PasswordTooShort)
	}
	if len(password) > maxPasswordLength {
		errs.Add(apierr.PasswordTooLong)
	}
}

// validateUsername appends length violations to errs.
func validateUsername(errs *apierr.List, username string) {
	if len(username) < minUsernameLength {
		errs.Add(apierr.UsernameTooShort)
	}
	if len(username) > maxUsernameLength {
		errs.Add(apierr.UsernameTooLong)
	}
}
