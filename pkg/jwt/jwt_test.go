package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager("test-secret", "callrelay", 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, "test-secret", manager.secretKey)
	assert.Equal(t, "callrelay", manager.issuer)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "callrelay", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "callrelay", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "callrelay", time.Nanosecond)

	token, err := manager.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-one", "callrelay", 15*time.Minute)
	verifier := NewJWTManager("secret-two", "callrelay", 15*time.Minute)

	token, err := issuer.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	other := NewJWTManager("test-secret", "someone-else", 15*time.Minute)
	manager := NewJWTManager("test-secret", "callrelay", 15*time.Minute)

	token, err := other.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_RejectsOtherSigningMethod(t *testing.T) {
	manager := NewJWTManager("test-secret", "", 15*time.Minute)
	claims := &Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewJWTManager("test-secret", "callrelay", 15*time.Minute)

	_, err := manager.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestTokenID(t *testing.T) {
	manager := NewJWTManager("test-secret", "callrelay", 15*time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)

	id, err := TokenID(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, id)

	_, err = TokenID("garbage")
	assert.Error(t, err)
}
