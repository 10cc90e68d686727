package authcore

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpSecretBytes    = 20 // 160 bits
	totpMinSecretBytes = 10
	totpDigits         = 6
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{config: cfg}
}

func (m *totpManager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Generate creates a fresh secret for account and its provisioning URI.
func (m *totpManager) Generate(account string) (*TOTPSetup, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := totpEncoding.EncodeToString(raw)

	uri, err := m.ProvisioningURI(secret, account)
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: secret, URI: uri}, nil
}

// ProvisioningURI builds the otpauth:// payload for an existing secret. It
// is deterministic for a given secret, account and issuer.
func (m *totpManager) ProvisioningURI(secret, account string) (string, error) {
	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.config.Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("totp: build key: %w", err)
	}
	return key.URL(), nil
}

// Verify accepts the code for the step containing now and for Skew steps on
// either side. Malformed codes fail closed; an undecodable secret returns
// ErrTOTPSecretInvalid.
func (m *totpManager) Verify(secret, code string, now time.Time) (bool, error) {
	if _, err := decodeTOTPSecret(secret); err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if len(code) != totpDigits || !isDigits(code) {
		return false, nil
	}

	ok, err := totp.ValidateCustom(code, secret, now.UTC(), m.validateOpts())
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// codeAt is the code an authenticator would display at t.
func (m *totpManager) codeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), m.validateOpts())
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	raw, err := totpEncoding.DecodeString(s)
	if err != nil || len(raw) < totpMinSecretBytes {
		return nil, ErrTOTPSecretInvalid
	}
	return raw, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// QRCode renders a provisioning URI as a PNG of size x size pixels.
func QRCode(uri string, size int) ([]byte, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("totp: parse uri: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("totp: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
