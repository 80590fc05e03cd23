package session

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleEmployee is the regular staff role
	RoleEmployee UserRole = "employee"
	// RoleManager can manage team resources
	RoleManager UserRole = "manager"
	// RoleAdmin has full access
	RoleAdmin UserRole = "admin"
)

// UserProfile is the identity payload returned by the service. A profile
// must carry at least an ID and an email to be usable as session state.
type UserProfile struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name,omitempty"`
	Phone     string     `json:"phone_number,omitempty"`
	Role      UserRole   `json:"role,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Validate enforces the minimum shape a profile needs before it can be
// promoted into session state.
func (p *UserProfile) Validate() error {
	if p == nil {
		return ErrValidation.Clone().WithMetadata(map[string]any{
			"reason": "profile is nil",
		})
	}

	err := validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
	)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid user profile").
			WithTextCode(textCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	return nil
}

// Clone returns a shallow copy so state snapshots never alias caller memory.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// ProfileDraft is the registration payload.
type ProfileDraft struct {
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone_number,omitempty"`
	Password string   `json:"password"`
	Role     UserRole `json:"role,omitempty"`
}

// Validate checks the draft before it is sent to the register endpoint.
func (d ProfileDraft) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&d.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&d.Phone, validation.By(validatePhone)),
		validation.Field(&d.Password, validation.Required, validation.Length(8, 100)),
	)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithTextCode(textCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	return nil
}

// ProfilePatch carries partial profile updates; nil fields are left alone.
type ProfilePatch struct {
	FullName  *string `json:"full_name,omitempty"`
	Phone     *string `json:"phone_number,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Validate rejects patches that would corrupt the stored profile.
func (p ProfilePatch) Validate() error {
	if p.Phone != nil && *p.Phone != "" {
		if err := validatePhone(*p.Phone); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile patch").
				WithTextCode(textCodeValidation).
				WithCode(goerrors.CodeBadRequest)
		}
	}
	return nil
}

// IsEmpty reports whether the patch carries no changes.
func (p ProfilePatch) IsEmpty() bool {
	return p.FullName == nil && p.Phone == nil && p.AvatarURL == nil
}

func validatePhone(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}

	parsed, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return err
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return goerrors.New("not a valid phone number", goerrors.CategoryValidation)
	}

	return nil
}

// Credentials is the durable credential record: the bearer token, the
// refresh token used to mint a new one, and the coarse role used for
// post-login routing.
type Credentials struct {
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Role         UserRole `json:"role,omitempty"`
}

// HasSession reports whether the record represents an active session.
func (c *Credentials) HasSession() bool {
	return c != nil && c.AccessToken != ""
}

// IsCorrupt reports whether the access token and role halves of the record
// disagree; they are always written together, so a lone half means the
// record must be purged.
func (c *Credentials) IsCorrupt() bool {
	if c == nil {
		return false
	}
	return (c.AccessToken != "") != (c.Role != "")
}

// Clone returns a copy of the record.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// TokenPair is the result of a successful token refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *UserProfile `json:"user"`
}
