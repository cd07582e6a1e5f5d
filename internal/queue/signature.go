package queue

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

const signatureIssuer = "Upstash"

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Signer produces webhook signatures: HS256 JWTs binding the destination URL
// and the SHA-256 of the body.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner returns a Signer for key. Signatures are valid for five minutes.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key), ttl: 5 * time.Minute, now: time.Now}
}

// Ready reports a missing signing key.
func (s *Signer) Ready() error {
	if len(s.key) == 0 {
		return errors.Misconfigured("signing key is not configured")
	}
	return nil
}

// Sign returns the signature header value for a delivery of body to url.
func (s *Signer) Sign(body []byte, url string) (string, error) {
	if err := s.Ready(); err != nil {
		return "", err
	}
	now := s.now()
	claims := signatureClaims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signatureIssuer,
			Subject:   url,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verifier checks webhook signatures against the current signing key and
// falls back to the next key so deliveries survive a key rotation.
type Verifier struct {
	current   string
	next      string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a Verifier with a small clock tolerance.
func NewVerifier(currentKey, nextKey string) *Verifier {
	return &Verifier{current: currentKey, next: nextKey, tolerance: 5 * time.Second, now: time.Now}
}

// Ready reports a configuration fault when no signing key is set.
func (v *Verifier) Ready() error {
	if v.current == "" && v.next == "" {
		return errors.Misconfigured("QSTASH_CURRENT_SIGNING_KEY and QSTASH_NEXT_SIGNING_KEY are not configured")
	}
	return nil
}

// Verify checks signature over body. An empty url skips the destination check.
func (v *Verifier) Verify(signature string, body []byte, url string) error {
	if strings.TrimSpace(signature) == "" {
		return errors.Unauthorized("missing %s header", HeaderSignature)
	}
	if err := v.Ready(); err != nil {
		return err
	}
	var firstErr error
	for _, key := range []string{v.current, v.next} {
		if key == "" {
			continue
		}
		err := v.verifyWithKey(signature, body, url, key)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return errors.Mark(errors.Wrap(firstErr, "invalid signature"), errors.ErrUnauthorized)
}

func (v *Verifier) verifyWithKey(token string, body []byte, url, key string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithLeeway(v.tolerance),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	var claims signatureClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}); err != nil {
		return err
	}
	if url != "" && claims.Subject != url {
		return errors.Newf("signature subject %q does not match %q", claims.Subject, url)
	}
	want := strings.TrimRight(bodyHash(body), "=")
	got := strings.TrimRight(claims.Body, "=")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return errors.New("body hash does not match")
	}
	return nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.URLEncoding.EncodeToString(sum[:])
}
