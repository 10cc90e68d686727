package authcore

import (
	"github.com/tcgemporium/authcore/jwt"
)

// AccountKind selects which repository a flow reads and which purpose a
// fully authenticated session receives. Users and administrators share every
// flow; only these bindings differ.
type AccountKind uint8

const (
	// UserAccount is a marketplace customer; full sessions get access tokens.
	UserAccount AccountKind = iota + 1
	// AdminAccount is an operator; full sessions get admin tokens.
	AdminAccount
)

func (k AccountKind) String() string {
	switch k {
	case UserAccount:
		return "user"
	case AdminAccount:
		return "admin"
	default:
		return "unknown"
	}
}

// SessionPurpose is the purpose issued once authentication is complete.
func (k AccountKind) SessionPurpose() jwt.Purpose {
	if k == AdminAccount {
		return jwt.PurposeAdmin
	}
	return jwt.PurposeAccess
}

func (k AccountKind) audience() string {
	if k == AdminAccount {
		return jwt.AudienceAdmin
	}
	return jwt.AudienceUser
}

// KindOf maps verified claims back to the account kind that earned them.
func KindOf(c *jwt.Claims) (AccountKind, bool) {
	if c == nil {
		return 0, false
	}
	switch c.Audience {
	case jwt.AudienceUser:
		return UserAccount, true
	case jwt.AudienceAdmin:
		return AdminAccount, true
	default:
		return 0, false
	}
}

type kindBinding struct {
	kind  AccountKind
	repo  AccountRepository
	users UserRepository
}

func (e *Engine) binding(kind AccountKind) (*kindBinding, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	b, ok := e.kinds[kind]
	if !ok || b.repo == nil {
		return nil, ErrUnknownAccountKind
	}
	return b, nil
}
