package statusapi

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost     = 10
	jwtExpiration  = 15 * time.Minute
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	apiKeyLength   = 48
)

// deviceClaims is the JWT payload issued in exchange for a valid device API
// key; it carries no identity beyond "this caller proved it holds the key".
type deviceClaims struct {
	jwt.RegisteredClaims
}

// DeviceAuth authenticates status-API callers against a single bcrypt-hashed
// device-local API key — this is not end-user auth, it exists so the status
// surface isn't open on the device's network interface.
type DeviceAuth struct {
	keyHash   string
	jwtSecret []byte
}

// NewDeviceAuth builds a DeviceAuth from an already-hashed key and the HMAC
// secret used to sign issued JWTs.
func NewDeviceAuth(keyHash string, jwtSecret []byte) *DeviceAuth {
	return &DeviceAuth{keyHash: keyHash, jwtSecret: jwtSecret}
}

// GenerateAPIKey returns a new random device API key, to be shown to the
// operator once and hashed for storage via HashAPIKey.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretAlphabet))))
		if err != nil {
			return "", fmt.Errorf("statusapi: generate api key: %w", err)
		}
		b[i] = secretAlphabet[n.Int64()]
	}
	return string(b), nil
}

// HashAPIKey bcrypt-hashes a device API key for storage.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("statusapi: hash api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate reports whether key matches the configured device API key.
func (a *DeviceAuth) Authenticate(key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(key)) == nil
}

// IssueJWT mints a short-lived token for a caller that has just presented a
// valid device API key.
func (a *DeviceAuth) IssueJWT() (string, error) {
	now := time.Now()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("statusapi: issue jwt: %w", err)
	}
	return signed, nil
}

// VerifyJWT validates a bearer token previously issued by IssueJWT.
func (a *DeviceAuth) VerifyJWT(tokenString string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	token, err := parser.ParseWithClaims(tokenString, &deviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	})
	if err != nil {
		return fmt.Errorf("statusapi: invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("statusapi: invalid token")
	}
	return nil
}
