package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AccountFields is the domain payload of an account record. PasswordHash is
// opaque to this core; it is carried and compared byte-for-byte like any
// other domain field.
type AccountFields struct {
	Username     string   `json:"username" validate:"required,min=1,max=128"`
	Email        string   `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName  string   `json:"display_name,omitempty" validate:"omitempty,max=256"`
	Groups       []string `json:"groups,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Active       bool     `json:"active"`
	PasswordHash string   `json:"password_hash,omitempty"`
}

// ClientFields is the domain payload of an OAuth client record.
type ClientFields struct {
	ClientID     string   `json:"client_id" validate:"required,min=1,max=128"`
	Name         string   `json:"name,omitempty" validate:"omitempty,max=256"`
	Secret       string   `json:"secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty" validate:"omitempty,dive,uri"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	Trusted      bool     `json:"trusted"`
}

// SessionFields is the domain payload of a session record.
type SessionFields struct {
	AccountID  string    `json:"account_id" validate:"required"`
	ClientID   string    `json:"client_id,omitempty"`
	Scopes     []string  `json:"scopes,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// AuditEventFields is the domain payload of an audit event record.
type AuditEventFields struct {
	Actor    string         `json:"actor,omitempty"`
	Action   string         `json:"action" validate:"required"`
	TargetID string         `json:"target_id,omitempty"`
	Outcome  string         `json:"outcome,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

var validate = validator.New()

// validatePayload runs struct-tag validation on a decoded kind payload.
func validatePayload(payload any) error {
	if payload == nil {
		return errors.New("nil payload")
	}
	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid field %s: failed %q constraint", f.Field(), f.Tag())
		}
		return err
	}
	return nil
}
