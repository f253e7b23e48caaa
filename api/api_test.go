package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/ecofy/ecofy-auth/api"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminEmail    = "root@ecofy.example"
	adminPassword = "bootstrap-password"
)

type server struct {
	app   *fiber.App
	repos auth.RepositoryManager
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := auth.OpenDB(auth.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, auth.Migrate(ctx, db))

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService([]byte("api-test-signing-key-0123456789ab"), time.Hour,
		auth.WithTokenLogger(auth.NopLogger{}))
	require.NoError(t, err)

	logger := auth.NopLogger{}
	repos := auth.NewRepositoryManager(db)
	resolver := auth.NewResolver(repos.Principals(), auth.WithResolverLogger(logger))

	auther := auth.NewAuthenticator(repos, tokens,
		auth.WithAutherHasher(hasher),
		auth.WithAutherLogger(logger),
	)
	_, _, err = auther.EnsureAdmin(ctx, auth.AdminSeed{
		Email:     adminEmail,
		Password:  adminPassword,
		FirstName: "Root",
		LastName:  "Admin",
	})
	require.NoError(t, err)

	controller := &api.Controller{
		Guard:  auth.NewGuard(tokens, resolver, auth.WithGuardLogger(logger)),
		Auther: auther,
		Registrar: auth.NewRegisterHandler(repos,
			auth.WithRegisterHasher(hasher),
			auth.WithRegisterLogger(logger),
		),
		Lifecycle:  auth.NewStatusLifecycle(repos, auth.WithStateMachineLogger(logger)),
		Principals: repos.Principals(),
		Logger:     logger,
	}

	srv := api.NewServer(logger)
	controller.Register(srv.Router())
	return &server{app: srv.WrappedRouter(), repos: repos}
}

func (s *server) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func (s *server) login(t *testing.T, kind auth.PrincipalKind, email, password string) string {
	t.Helper()
	status, body := s.call(t, "POST", "/auth/login", "", map[string]any{
		"kind":     kind,
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *server) registerUser(t *testing.T, email string) int64 {
	t.Helper()
	status, body := s.call(t, "POST", "/auth/register/user", "", map[string]any{
		"first_name":       "Olena",
		"last_name":        "Koval",
		"email":            email,
		"password":         "long-password",
		"confirm_password": "long-password",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return int64(body["id"].(float64))
}

func errorCode(body map[string]any) string {
	payload, _ := body["error"].(map[string]any)
	code, _ := payload["text_code"].(string)
	return code
}

func TestRegistrationAndLogin(t *testing.T) {
	s := newServer(t)

	id := s.registerUser(t, "olena@example.com")
	assert.Positive(t, id)

	status, body := s.call(t, "POST", "/auth/register/user", "", map[string]any{
		"first_name":       "Olena",
		"last_name":        "Koval",
		"email":            "OLENA@example.com",
		"password":         "long-password",
		"confirm_password": "long-password",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeDuplicateCredential, errorCode(body))

	status, body = s.call(t, "POST", "/auth/register/user", "", map[string]any{
		"first_name":       "Olena",
		"last_name":        "Koval",
		"email":            "not-an-email",
		"password":         "long-password",
		"confirm_password": "different-password",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	fields, _ := body["error"].(map[string]any)["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "confirm_password")

	token := s.login(t, auth.KindUser, "olena@example.com", "long-password")

	status, body = s.call(t, "GET", "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user", body["kind"])
	assert.Equal(t, "user", body["role"])

	status, body = s.call(t, "POST", "/auth/login", "", map[string]any{
		"kind":     "user",
		"email":    "olena@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeInvalidCreds, errorCode(body))
}

func TestRegisterClientCompany(t *testing.T) {
	s := newServer(t)

	payload := map[string]any{
		"name":             "Lviv Bakery",
		"edrpou":           "30000001",
		"email":            "bakery@example.com",
		"password":         "long-password",
		"confirm_password": "long-password",
	}
	status, body := s.call(t, "POST", "/auth/register/client-company", "", payload)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "client_company", body["role"])

	payload["email"] = "bakery2@example.com"
	status, _ = s.call(t, "POST", "/auth/register/client-company", "", payload)
	assert.Equal(t, http.StatusConflict, status)

	payload["edrpou"] = "123"
	status, _ = s.call(t, "POST", "/auth/register/client-company", "", payload)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUserOwnership(t *testing.T) {
	s := newServer(t)
	ownerID := s.registerUser(t, "owner@example.com")
	otherID := s.registerUser(t, "other@example.com")
	ownerToken := s.login(t, auth.KindUser, "owner@example.com", "long-password")
	adminToken := s.login(t, auth.KindAdmin, adminEmail, adminPassword)

	status, _ := s.call(t, "GET", fmt.Sprintf("/users/%d", ownerID), ownerToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := s.call(t, "GET", fmt.Sprintf("/users/%d", otherID), ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeForbidden, errorCode(body))

	status, body = s.call(t, "PATCH", fmt.Sprintf("/users/%d", ownerID), ownerToken, map[string]any{"city": "Lviv"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Lviv", body["city"])

	status, _ = s.call(t, "PATCH", fmt.Sprintf("/users/%d", otherID), ownerToken, map[string]any{"city": "Kyiv"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.call(t, "GET", fmt.Sprintf("/users/%d", otherID), adminToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, "GET", "/users/9999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.call(t, "GET", "/users/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChangePassword(t *testing.T) {
	s := newServer(t)
	s.registerUser(t, "pw@example.com")
	token := s.login(t, auth.KindUser, "pw@example.com", "long-password")

	status, _ := s.call(t, "PUT", "/auth/password", token, map[string]any{
		"current_password": "not-the-password",
		"password":         "another-long-password",
		"confirm_password": "another-long-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.call(t, "PUT", "/auth/password", token, map[string]any{
		"current_password": "long-password",
		"password":         "another-long-password",
		"confirm_password": "another-long-password",
	})
	assert.Equal(t, http.StatusNoContent, status)

	s.login(t, auth.KindUser, "pw@example.com", "another-long-password")
}

func TestAdminLifecycle(t *testing.T) {
	s := newServer(t)
	userID := s.registerUser(t, "member@example.com")
	userToken := s.login(t, auth.KindUser, "member@example.com", "long-password")
	adminToken := s.login(t, auth.KindAdmin, adminEmail, adminPassword)

	status, _ := s.call(t, "GET", "/admin/user", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.call(t, "GET", "/admin/user", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, body = s.call(t, "POST", fmt.Sprintf("/admin/user/%d/status", userID), adminToken,
		map[string]any{"status": "suspended", "reason": "abuse"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "suspended", body["status"])

	status, _ = s.call(t, "GET", "/auth/me", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.call(t, "POST", fmt.Sprintf("/admin/user/%d/status", userID), adminToken,
		map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeInvalidTransition, errorCode(body))

	status, _ = s.call(t, "POST", fmt.Sprintf("/admin/user/%d/status", userID), adminToken,
		map[string]any{"status": "active"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, "GET", "/auth/me", userToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, "GET", "/admin/robot", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRoleChangeAppliesToExistingTokens(t *testing.T) {
	s := newServer(t)
	userID := s.registerUser(t, "promote@example.com")
	userToken := s.login(t, auth.KindUser, "promote@example.com", "long-password")
	adminToken := s.login(t, auth.KindAdmin, adminEmail, adminPassword)

	status, _ := s.call(t, "GET", "/admin/user", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.call(t, "PUT", fmt.Sprintf("/admin/user/%d/role", userID), adminToken,
		map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, status, body)

	status, _ = s.call(t, "GET", "/admin/user", userToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, "PUT", fmt.Sprintf("/admin/user/%d/role", userID), adminToken,
		map[string]any{"role": "organization"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOrganizationDeletionGuard(t *testing.T) {
	s := newServer(t)
	adminToken := s.login(t, auth.KindAdmin, adminEmail, adminPassword)
	s.registerUser(t, "citizen@example.com")
	userToken := s.login(t, auth.KindUser, "citizen@example.com", "long-password")

	payload := map[string]any{
		"name":             "Green Collect",
		"edrpou":           "40000001",
		"email":            "green@example.com",
		"password":         "long-password",
		"confirm_password": "long-password",
	}

	status, _ := s.call(t, "POST", "/organizations", userToken, payload)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.call(t, "POST", "/organizations", adminToken, payload)
	require.Equal(t, http.StatusCreated, status, body)
	orgID := int64(body["id"].(float64))

	request := &auth.DisposalRequest{OrganizationID: orgID, Status: "pending", CreatedAt: time.Now().UTC()}
	_, err := s.repos.DB().NewInsert().Model(request).Returning("id").Exec(context.Background())
	require.NoError(t, err)

	status, body = s.call(t, "DELETE", fmt.Sprintf("/admin/organization/%d", orgID), adminToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeConflict, errorCode(body))

	_, err = s.repos.DB().NewDelete().Model(request).WherePK().Exec(context.Background())
	require.NoError(t, err)

	status, _ = s.call(t, "DELETE", fmt.Sprintf("/admin/organization/%d", orgID), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = s.call(t, "DELETE", fmt.Sprintf("/admin/organization/%d", orgID), adminToken, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.call(t, "DELETE", "/admin/organization/9999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
