package controllers_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/controllers"
	"github.com/CUknot/locshare/database"
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/repository"
	"github.com/CUknot/locshare/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router *gin.Engine
}

func newAPI(t *testing.T, health func(context.Context) error) *apiFixture {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "location_changes", false))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	revocations, err := identity.OpenBadgerRevocations("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = revocations.Close() })

	rooms := repository.NewGormRoomRepository(db)
	members := repository.NewGormMemberRepository(db)
	locations := repository.NewGormLocationRepository(db)
	registry := services.NewRoomRegistry(rooms, members, locations)
	tokens := identity.NewJWTProvider("test-secret", time.Hour, revocations)

	h := controllers.NewHandler(
		registry,
		services.NewMembershipManager(registry, rooms, members, locations),
		services.NewLocationStore(locations),
		identity.NewAccounts(repository.NewGormUserRepository(db), tokens),
		tokens,
	)
	return &apiFixture{router: controllers.NewRouter(h, controllers.RouterConfig{Health: health})}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (f *apiFixture) register(t *testing.T, username, email string) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": username, "email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code, body)
	return body["token"].(string)
}

func field(t *testing.T, body map[string]any, key, name string) string {
	t.Helper()
	obj, ok := body[key].(map[string]any)
	require.True(t, ok, "missing %s in %v", key, body)
	return obj[name].(string)
}

func TestAuthFlow(t *testing.T) {
	api := newAPI(t, nil)

	token := api.register(t, "ana", "Ana@Example.com")

	code, _ := api.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": "ana2", "email": "ana@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, code, "email is taken case-insensitively")

	code, body := api.do(t, http.MethodPost, "/api/login", "", gin.H{"email": "ana@example.com", "password": "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, code, body)

	code, body = api.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ana", field(t, body, "user", "username"))

	code, _ = api.do(t, http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "revoked token must be rejected")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newAPI(t, nil)

	code, _ := api.do(t, http.MethodGet, "/api/rooms/owned", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(t, http.MethodGet, "/api/rooms/owned", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRoomLifecycle(t *testing.T) {
	api := newAPI(t, nil)
	owner := api.register(t, "ana", "ana@example.com")
	guest := api.register(t, "bo", "bo@example.com")

	code, body := api.do(t, http.MethodPost, "/api/rooms", owner, gin.H{"name": "Trip"})
	require.Equal(t, http.StatusCreated, code, body)
	roomID := field(t, body, "room", "id")
	roomCode := field(t, body, "room", "code")
	assert.Len(t, roomCode, 6)

	code, body = api.do(t, http.MethodPost, "/api/rooms", owner, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = api.do(t, http.MethodGet, "/api/rooms/code/"+roomCode, guest, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, roomID, field(t, body, "room", "id"))

	for i := 0; i < 2; i++ {
		code, body = api.do(t, http.MethodPost, "/api/rooms/join", guest, gin.H{"code": roomCode})
		require.Equal(t, http.StatusOK, code, body)
	}

	code, body = api.do(t, http.MethodGet, "/api/rooms/joined", guest, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rooms"], 1, "joining twice lists the room once")

	code, body = api.do(t, http.MethodGet, "/api/rooms/joined", owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["rooms"], "the owner is not a member")

	code, _ = api.do(t, http.MethodPost, "/api/rooms/join", guest, gin.H{"code": "ZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodDelete, "/api/rooms/"+roomID, guest, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(t, http.MethodDelete, "/api/rooms/"+roomID, owner, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodGet, "/api/rooms/"+roomID, owner, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(t, http.MethodGet, "/api/rooms/code/"+roomCode, guest, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLocationEndpoints(t *testing.T) {
	api := newAPI(t, nil)
	owner := api.register(t, "ana", "ana@example.com")
	guest := api.register(t, "bo", "bo@example.com")

	_, body := api.do(t, http.MethodPost, "/api/rooms", owner, gin.H{"name": "Trip"})
	roomID := field(t, body, "room", "id")

	code, body := api.do(t, http.MethodPut, "/api/rooms/"+roomID+"/position", owner, gin.H{"latitude": 40.0, "longitude": -3.0})
	require.Equal(t, http.StatusOK, code, body)
	first := field(t, body, "location", "id")

	code, body = api.do(t, http.MethodPut, "/api/rooms/"+roomID+"/position", owner, gin.H{"latitude": 0, "longitude": 0})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, first, field(t, body, "location", "id"), "the live position is overwritten in place")

	code, _ = api.do(t, http.MethodPut, "/api/rooms/"+roomID+"/position", owner, gin.H{"latitude": 91, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, http.MethodPut, "/api/rooms/"+roomID+"/position", owner, gin.H{"longitude": 0})
	assert.Equal(t, http.StatusBadRequest, code, "latitude is required")

	code, body = api.do(t, http.MethodPost, "/api/rooms/"+roomID+"/markers", guest, gin.H{
		"latitude": 40.4, "longitude": -3.7, "name": "Lunch",
	})
	require.Equal(t, http.StatusCreated, code, body)
	markerID := field(t, body, "location", "id")

	code, body = api.do(t, http.MethodGet, "/api/rooms/"+roomID+"/locations", guest, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["locations"], 2)
	grouped := body["grouped"].(map[string]any)
	assert.Len(t, grouped["custom_markers"], 1)
	assert.Len(t, grouped["user_locations"], 1)

	code, _ = api.do(t, http.MethodDelete, "/api/locations/"+markerID, owner, nil)
	assert.Equal(t, http.StatusForbidden, code, "only the author may delete a marker")

	code, _ = api.do(t, http.MethodDelete, "/api/locations/"+markerID, guest, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodDelete, "/api/locations/"+markerID, guest, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodPost, "/api/rooms/"+roomID+"/leave", owner, nil)
	require.Equal(t, http.StatusOK, code)

	_, body = api.do(t, http.MethodGet, "/api/rooms/"+roomID+"/locations", guest, nil)
	assert.Empty(t, body["locations"], "leaving removes the live position")
}

func TestHealth(t *testing.T) {
	api := newAPI(t, nil)
	code, body := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	down := newAPI(t, func(context.Context) error { return errors.New("connection refused") })
	code, body = down.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}
