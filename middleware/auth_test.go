package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(testSecret), RequireRole(roles...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint(ContextUserID), "role": c.GetString(ContextRole)})
	})
	return r
}

func TestParseToken(t *testing.T) {
	token, err := GenerateToken(testSecret, 42, RoleStudent, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.Equal(t, "42", claims.Subject)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)

	expired, err := GenerateToken(testSecret, 42, RoleStudent, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	anonymous, err := GenerateToken(testSecret, 0, RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, anonymous)
	assert.Error(t, err)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 1, Role: RoleAdmin}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(testSecret, token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAuthMiddleware(t *testing.T) {
	router := newAuthRouter(RoleStudent)
	student, err := GenerateToken(testSecret, 7, RoleStudent, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"missing token", "/whoami", "", http.StatusUnauthorized},
		{"garbage token", "/whoami", "Bearer nope", http.StatusUnauthorized},
		{"bearer header", "/whoami", "Bearer " + student, http.StatusOK},
		{"query parameter", "/whoami?token=" + student, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":7,"role":"student"}`, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := newAuthRouter(RoleParent)

	call := func(role string) int {
		token, err := GenerateToken(testSecret, 1, role, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call(RoleParent))
	assert.Equal(t, http.StatusOK, call(RoleAdmin), "admins pass every guard")
	assert.Equal(t, http.StatusForbidden, call(RoleStudent))
	assert.Equal(t, http.StatusForbidden, call(""))
}
