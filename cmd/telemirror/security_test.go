package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAdminToken_OpenWithoutTokenOutsideProduction(t *testing.T) {
	t.Setenv("TELEMIRROR_ADMIN_TOKEN", "")
	t.Setenv("TELEMIRROR_ENV", "")

	rec := httptest.NewRecorder()
	requireAdminToken(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminToken_RequiredInProduction(t *testing.T) {
	t.Setenv("TELEMIRROR_ADMIN_TOKEN", "")
	t.Setenv("TELEMIRROR_ENV", "production")

	rec := httptest.NewRecorder()
	requireAdminToken(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminToken_MissingBearer(t *testing.T) {
	t.Setenv("TELEMIRROR_ADMIN_TOKEN", "sekrit")

	rec := httptest.NewRecorder()
	requireAdminToken(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdminToken_WrongToken(t *testing.T) {
	t.Setenv("TELEMIRROR_ADMIN_TOKEN", "sekrit")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	requireAdminToken(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminToken_CorrectToken(t *testing.T) {
	t.Setenv("TELEMIRROR_ADMIN_TOKEN", "sekrit")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	requireAdminToken(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
