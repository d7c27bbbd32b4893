// Package credential issues and verifies the short-lived QR credentials a
// student's device displays. Every credential is signed with the subject's
// own rotation secret, so one leaked secret only exposes that subject.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qrattend/internal/apperr"
)

// DefaultTTL is how long a displayed code stays valid.
const DefaultTTL = 60 * time.Second

// secretBytes is the entropy of a rotation secret before hex encoding.
const secretBytes = 32

var (
	ErrMissingSecret  = apperr.NewConfiguration("rotation secret is not configured")
	ErrMissingSubject = apperr.NewBadRequest("credential subject is required")
	ErrNoSubjectClaim = errors.New("credential carries no subject")
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the payload of a QR credential. The wire shape is {id, iat, exp}.
type Claims struct {
	SubjectID string `json:"id"`
	jwt.RegisteredClaims
}

// Result is the outcome of Verify. Claims is only set when Valid is true.
type Result struct {
	Valid   bool
	Expired bool
	Claims  *Claims
}

// NewSecret generates a fresh rotation secret for a new account.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Issue signs a credential for subjectID with the subject's secret.
func Issue(subjectID, secret string, ttl time.Duration) (string, error) {
	return issueAt(subjectID, secret, ttl, time.Now())
}

func issueAt(subjectID, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if subjectID == "" {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// exp counts from the whole-second iat, so a credential never outlives ttl.
	iat := now.Truncate(time.Second)
	claims := Claims{
		SubjectID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
}

// Verify checks token against secret. It never returns claims for a token
// that failed any check.
func Verify(token, secret string) Result {
	return verifyAt(token, secret, time.Now())
}

func verifyAt(token, secret string, now time.Time) Result {
	if token == "" || secret == "" {
		return Result{}
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc(secret),
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err == nil && parsed.Valid && claims.SubjectID != "" {
		return Result{Valid: true, Claims: claims}
	}
	if err != nil && errors.Is(err, jwt.ErrTokenExpired) && signatureHolds(token, secret) {
		return Result{Expired: true}
	}
	return Result{}
}

// signatureHolds re-checks only the signature, so an expired report is
// never produced for a token signed with some other key.
func signatureHolds(token, secret string) bool {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, keyFunc(secret),
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return err == nil && parsed.Valid
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if t.Method != signingMethod {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}
}

// PeekUnverifiedSubject reads the subject claim without checking the
// signature. The result only selects which secret to verify with and must
// not be trusted before Verify succeeds.
func PeekUnverifiedSubject(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if claims.SubjectID == "" {
		return "", ErrNoSubjectClaim
	}
	return claims.SubjectID, nil
}
