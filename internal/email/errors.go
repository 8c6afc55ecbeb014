package email

import "errors"

// ErrNoRecipients is returned when an email has no To addresses.
var ErrNoRecipients = errors.New("email: no recipients")
