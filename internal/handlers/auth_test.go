package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret"

type stubVerifier map[string]*auth.Token

func (s stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := s[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("id token has expired")
}

func TestFirebaseLogin_CreatesUserOnceAndIssuesJWT(t *testing.T) {
	db := newTestDB(t)
	verifier := stubVerifier{
		"good": {UID: "fb-uid-1", Claims: map[string]interface{}{"email": "carol@example.com"}},
	}
	e := newAuthEcho(db, verifier)

	var first, second struct {
		Token string `json:"token"`
	}
	rec := doRequest(e, http.MethodPost, "/api/v1/auth/firebase-login", `{"idToken":"good"}`, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doRequest(e, http.MethodPost, "/api/v1/auth/firebase-login", `{"idToken":"good"}`, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	var users []models.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].Username)

	claims := &models.JwtCustomClaims{}
	_, err := jwt.ParseWithClaims(first.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, users[0].ID, claims.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestFirebaseLogin_Rejections(t *testing.T) {
	e := newAuthEcho(newTestDB(t), stubVerifier{})

	assert.Equal(t, http.StatusBadRequest, doRequest(e, http.MethodPost, "/api/v1/auth/firebase-login", `{}`, 0).Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(e, http.MethodPost, "/api/v1/auth/firebase-login", `{"idToken":"forged"}`, 0).Code)
}

func TestUsernameFor(t *testing.T) {
	assert.Equal(t, "Dana", usernameFor(&auth.Token{UID: "u", Claims: map[string]interface{}{"name": "Dana"}}, "dana@example.com"))
	assert.Equal(t, "dana", usernameFor(&auth.Token{UID: "u", Claims: map[string]interface{}{}}, "dana@example.com"))
	assert.Equal(t, "u", usernameFor(&auth.Token{UID: "u", Claims: map[string]interface{}{}}, ""))
}

func newAuthEcho(db *gorm.DB, verifier IDTokenVerifier) *echo.Echo {
	e, _ := newTestEcho()
	h := NewAuthHandler(repositories.NewPostgresUserRepository(db), verifier, testJWTSecret, time.Hour)
	h.RegisterAuthRoutes(e.Group("/api/v1/auth"))
	return e
}
