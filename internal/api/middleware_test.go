package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packedgo/checkout-sync/internal/auth"
	"github.com/packedgo/checkout-sync/internal/logger"
)

func authedEngine(key []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BearerAuthMiddleware(logger.Nop(), key, "/customer/login", "/customer/checkout", nil))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"customer": c.GetString(customerKey), "token": auth.TokenFromContext(c.Request.Context()) != ""})
	})
	return r
}

func callWhoami(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestBearerAuthAcceptsSignedToken(t *testing.T) {
	r := authedEngine(testSigningKey)

	w := callWhoami(r, signed(t, jwt.SigningMethodHS256, testSigningKey, "victim"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"customer":"victim","token":true}`, w.Body.String())
}

func TestBearerAuthRejectsForgedTokens(t *testing.T) {
	r := authedEngine(testSigningKey)

	cases := map[string]string{
		"unsigned":  signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "victim"),
		"wrong key": signed(t, jwt.SigningMethodHS256, []byte("attacker-key"), "victim"),
		"other alg": signed(t, jwt.SigningMethodHS384, testSigningKey, "victim"),
		"missing":   "",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := callWhoami(r, header)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "/customer/login?returnUrl=%2Fcustomer%2Fcheckout")
			assert.NotContains(t, w.Body.String(), "victim")
		})
	}
}

func TestBearerAuthWithoutKeyFailsClosed(t *testing.T) {
	r := authedEngine(nil)

	w := callWhoami(r, signed(t, jwt.SigningMethodHS256, testSigningKey, "victim"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS("https://shop.example.com", next)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout/view", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.NotEqual(t, http.StatusTeapot, w.Code)
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORS("https://shop.example.com", next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)
}
