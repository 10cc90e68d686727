package authcore

import (
	"context"
	"time"

	"github.com/tcgemporium/authcore/jwt"
)

// AccountStatus is the lifecycle state stored with an account.
type AccountStatus string

const (
	// AccountActive accounts may log in.
	AccountActive AccountStatus = "active"
	// AccountSuspended accounts are blocked by an operator.
	AccountSuspended AccountStatus = "suspended"
	// AccountDeleted accounts are retained only for bookkeeping.
	AccountDeleted AccountStatus = "deleted"
)

// MFAState is derived from the stored TOTP flag and secret.
type MFAState uint8

const (
	MFADisabled MFAState = iota
	MFAPending
	MFAEnabled
)

func (s MFAState) String() string {
	switch s {
	case MFAPending:
		return "pending"
	case MFAEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// Account is the credential record the Engine reads through a repository.
// The Engine never constructs one except during registration.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	TOTPEnabled  bool
	TOTPSecret   string
	Status       AccountStatus
	LockedUntil  time.Time
	LastLoginAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MFAState reports where the account sits in the enrollment state machine.
func (a Account) MFAState() MFAState {
	switch {
	case a.TOTPEnabled:
		return MFAEnabled
	case a.TOTPSecret != "":
		return MFAPending
	default:
		return MFADisabled
	}
}

func (a *Account) canLogin(now time.Time) bool {
	if a.Status != AccountActive {
		return false
	}
	return a.LockedUntil.IsZero() || !now.Before(a.LockedUntil)
}

// AccountPatch lists exactly the fields an update changes, together with the
// prior state the update is conditioned on. A nil pointer means "leave as is"
// for changes and "don't care" for expectations. An empty TOTPSecret clears it.
type AccountPatch struct {
	ExpectTOTPEnabled *bool
	ExpectTOTPSecret  *string

	TOTPEnabled  *bool
	TOTPSecret   *string
	PasswordHash *string
	LastLoginAt  *time.Time
}

// Matches reports whether a satisfies the patch expectations.
func (p AccountPatch) Matches(a *Account) bool {
	if p.ExpectTOTPEnabled != nil && a.TOTPEnabled != *p.ExpectTOTPEnabled {
		return false
	}
	if p.ExpectTOTPSecret != nil && a.TOTPSecret != *p.ExpectTOTPSecret {
		return false
	}
	return true
}

// Apply writes the patch changes into a. Callers check Matches first.
func (p AccountPatch) Apply(a *Account) {
	if p.TOTPEnabled != nil {
		a.TOTPEnabled = *p.TOTPEnabled
	}
	if p.TOTPSecret != nil {
		a.TOTPSecret = *p.TOTPSecret
	}
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.LastLoginAt != nil {
		a.LastLoginAt = *p.LastLoginAt
	}
}

// AccountRepository is the storage the login and MFA flows need.
// Update returns ErrConflict when the patch expectations no longer hold and
// FindBy* return ErrNotFound for missing rows.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	Update(ctx context.Context, id string, patch AccountPatch) error
}

// UserRepository adds what registration needs on top of AccountRepository.
type UserRepository interface {
	AccountRepository
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, account *Account) error
}

// BackupCodeRecord is the persisted form of a backup code. Only the hash of
// the code value is ever stored.
type BackupCodeRecord struct {
	ID        string
	OwnerID   string
	Label     string
	Hash      string
	UsedAt    *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BackupCodeRepository persists backup codes. ReplaceForOwner swaps an
// owner's whole batch atomically: on error the previous batch is intact.
// MarkUsed must only succeed while the code is still unused and returns
// ErrConflict otherwise.
type BackupCodeRepository interface {
	ReplaceForOwner(ctx context.Context, ownerID string, records []BackupCodeRecord) error
	FindUnusedByOwner(ctx context.Context, ownerID string, now time.Time) ([]BackupCodeRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]BackupCodeRecord, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// RevocationStore records revoked token IDs until the token would have
// expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, jti, subject, purpose string, expiresAt time.Time, reason string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// LoginResult is returned by every step that hands a token to the client.
type LoginResult struct {
	Token       string
	Purpose     jwt.Purpose
	Subject     string
	TokenID     string
	ExpiresAt   time.Time
	MFARequired bool
}

// TOTPSetup is returned once by SetupMFA.
type TOTPSetup struct {
	Secret string
	URI    string
}

// BackupCode is a freshly generated plaintext code. It is returned once and
// cannot be read back.
type BackupCode struct {
	Label     string
	Code      string
	ExpiresAt time.Time
}

// BackupCodeInfo is the metadata view of a stored code.
type BackupCodeInfo struct {
	ID        string
	Label     string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RegisterRequest carries registration input.
type RegisterRequest struct {
	Email    string `validate:"required,max=254,email_strict"`
	Username string `validate:"required,username"`
	Password string `validate:"required,password"`
}
