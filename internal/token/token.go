package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medibook/appointment-booking/internal/booking"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrBadSignature   = errors.New("token signature invalid")
)

type Claims struct {
	Role  booking.Role `json:"role"`
	Admin bool         `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies the signed credentials that carry a subject id
// and role claim. It does no role-appropriateness checks; those belong to the
// gates in front of the handlers.
type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// Issue signs a token for the subject, valid for ttl from now. Admin tokens
// carry an explicit adm marker so the admin gate can tell the configured
// principal apart from an ordinary subject id.
func (s *Service) Issue(subjectID string, role booking.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Role:  role,
		Admin: role == booking.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify parses and checks a token, returning the embedded identity. The
// keyfunc pins HMAC to block alg confusion.
func (s *Service) Verify(raw string) (booking.Identity, *Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadSignature
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return booking.Identity{}, nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrBadSignature):
			return booking.Identity{}, nil, ErrBadSignature
		default:
			return booking.Identity{}, nil, ErrTokenMalformed
		}
	}

	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return booking.Identity{}, nil, ErrTokenMalformed
	}

	return booking.Identity{ID: c.Subject, Role: c.Role}, c, nil
}
