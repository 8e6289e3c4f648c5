// Invitation link tokens.
// An invitation is serialized into a signed JWT so it can travel as a
// URL, QR code or email without the server keeping link state. The
// token embeds the one-time secret; possession of the link is the
// credential, exactly like possession of an invitation file.
package invite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	qrcode "github.com/skip2/go-qrcode"

	"lockd/internal/clock"
	"lockd/internal/email"
	"lockd/internal/protocol"
)

var (
	ErrNonValidToken    = errors.New("token did not pass validation")
	ErrInvalidClaimType = errors.New("invalid claim type")
)

var tokenSignatureAlg = jwt.SigningMethodHS256

const QRImageSize = 512

// Claims carries a full invitation inside the signed token.
type Claims struct {
	Invitation protocol.Invitation `json:"invitation"`
	jwt.RegisteredClaims
}

// Service signs and decodes invitation link tokens.
type Service struct {
	secret  []byte
	baseURL string
	clk     clock.Clock
}

func NewService(secret string, baseURL string, clk clock.Clock) *Service {
	return &Service{
		secret:  []byte(secret),
		baseURL: baseURL,
		clk:     clk,
	}
}

// Token signs an invitation into a link token. The token expires when
// the invitation does, so a stale link fails before it reaches the
// authority.
func (s *Service) Token(invitation protocol.Invitation) (string, error) {
	claims := Claims{
		Invitation: invitation,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.clk.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(invitation.NewKey.Expiration),
		},
	}

	token := jwt.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString(s.secret)
}

// Decode validates a link token and returns the invitation inside it.
func (s *Service) Decode(tokenString string) (protocol.Invitation, error) {
	claims, err := decodeJWT(s, tokenString, &Claims{})
	if err != nil {
		return protocol.Invitation{}, err
	}
	return claims.Invitation, nil
}

// Link renders the confirmation URL for a token.
func (s *Service) Link(token string) string {
	return fmt.Sprintf("%s/invite/%s", strings.TrimRight(s.baseURL, "/"), token)
}

// QR renders the confirmation URL as a PNG QR code.
func (s *Service) QR(token string) ([]byte, error) {
	return qrcode.Encode(s.Link(token), qrcode.Medium, QRImageSize)
}

// Email composes the invitation email for a token.
func (s *Service) Email(to string, lockName string, invitation protocol.Invitation, token string) email.Invitation {
	return email.Invitation{
		To:       to,
		LockName: lockName,
		KeyName:  invitation.NewKey.Name,
		Link:     s.Link(token),
		Expires:  invitation.NewKey.Expiration,
	}
}

func decodeJWT[T jwt.Claims](s *Service, tokenString string, claimsType T) (T, error) {
	var zero T

	parsedToken, err := jwt.ParseWithClaims(tokenString, claimsType, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{tokenSignatureAlg.Alg()}), jwt.WithTimeFunc(s.clk.Now))

	if err != nil {
		return zero, err
	} else if parsedToken == nil || !parsedToken.Valid {
		return zero, ErrNonValidToken
	} else if claims, ok := parsedToken.Claims.(T); ok {
		return claims, nil
	}

	return zero, ErrInvalidClaimType
}
