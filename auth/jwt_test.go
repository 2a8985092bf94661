package auth

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

func TestGenerateAndValidate(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.GenerateJWT(42, "a@b.c")
	require.NoError(t, err)

	claims, err := v.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
}

func TestValidateRejects(t *testing.T) {
	v := NewVerifier("secret")

	other, err := NewVerifier("other").GenerateJWT(1, "x")
	require.NoError(t, err)
	_, err = v.ValidateJWT(other)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.ValidateJWT(s)
	assert.Error(t, err)

	anon := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{})
	s, err = anon.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.ValidateJWT(s)
	assert.Error(t, err)

	_, err = v.ValidateJWT("garbage")
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("secret")
	token, err := v.GenerateJWT(7, "u@x.io")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", v.AuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint("user_id")})
	})

	cases := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session_token", Value: token}) }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"user_id":7}`, w.Body.String())
			}
		})
	}
}
