package oauth

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tansive/agentgateway/internal/common/uuid"
)

const (
	claimSessionID = "sid"
	claimProvider  = "prv"

	DefaultStateTTL = 10 * time.Minute
)

// StateSigner issues and verifies the OAuth state parameter. The state is an HS256
// token naming the session and provider the authorization round belongs to.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner returns a signer keyed with secret. An empty secret gets a random
// key, which means states do not survive a restart.
func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, ErrStateSigning.MsgErr("unable to generate state key", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: key, ttl: ttl, now: time.Now}, nil
}

// Sign returns a state token for (sessionID, provider).
func (s *StateSigner) Sign(sessionID, provider string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		claimSessionID: sessionID,
		claimProvider:  provider,
		"jti":          uuid.NewString(),
		"iat":          jwt.NewNumericDate(now),
		"exp":          jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", ErrStateSigning.MsgErr("unable to sign state", err)
	}
	return signed, nil
}

// Parse validates the token and returns the session id and provider it names.
func (s *StateSigner) Parse(state string) (sessionID, provider string, err error) {
	token, parseErr := jwt.Parse(state, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState.Msg("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if parseErr != nil || !token.Valid {
		return "", "", ErrInvalidState.Err(parseErr)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidState.Msg("invalid claims")
	}
	sessionID, _ = claims[claimSessionID].(string)
	provider, _ = claims[claimProvider].(string)
	if sessionID == "" || provider == "" {
		return "", "", ErrInvalidState.Msg("state is missing session or provider")
	}
	return sessionID, provider, nil
}

// Verify checks that state was issued for sessionID and provider.
func (s *StateSigner) Verify(state, sessionID, provider string) error {
	sid, prv, err := s.Parse(state)
	if err != nil {
		return err
	}
	if sid != sessionID || prv != provider {
		return ErrInvalidState.Msg("state does not match session or provider")
	}
	return nil
}
