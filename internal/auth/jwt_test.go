package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("test-secret-key", 24*time.Hour, 8*time.Hour)
}

func TestGenerateAndValidateUserToken(t *testing.T) {
	mgr := newTestJWTManager()
	userID := uuid.New()

	token, err := mgr.GenerateToken(RealmUser, userID, "test@test.com", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := mgr.ValidateTokenForRealm(token, RealmUser)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, RealmUser, claims.Realm)
	assert.Equal(t, "test@test.com", claims.Email)

	id, err := claims.SubjectID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)
}

func TestGenerateAndValidateAdminToken(t *testing.T) {
	mgr := newTestJWTManager()
	adminID := uuid.New()

	token, err := mgr.GenerateToken(RealmAdmin, adminID, "admin@test.com", RoleSuperAdmin)
	require.NoError(t, err)

	claims, err := mgr.ValidateTokenForRealm(token, RealmAdmin)
	require.NoError(t, err)
	assert.Equal(t, RealmAdmin, claims.Realm)
	assert.Equal(t, RoleSuperAdmin, claims.Role)
}

func TestUnknownRealmRejected(t *testing.T) {
	_, err := newTestJWTManager().GenerateToken(Realm("affiliate"), uuid.New(), "", "")
	assert.Error(t, err)
}

func TestRealmMismatchRejected(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmUser, uuid.New(), "", "")
	require.NoError(t, err)

	_, err = mgr.ValidateTokenForRealm(token, RealmAdmin)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected realm admin")
}

func TestInvalidSecretRejected(t *testing.T) {
	mgr1 := NewJWTManager("secret-1", 24*time.Hour, 8*time.Hour)
	mgr2 := NewJWTManager("secret-2", 24*time.Hour, 8*time.Hour)

	token, err := mgr1.GenerateToken(RealmUser, uuid.New(), "", "")
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := NewJWTManager("secret", -time.Minute, -time.Minute)

	token, err := mgr.GenerateToken(RealmUser, uuid.New(), "", "")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthenticateUser(t *testing.T) {
	mgr := newTestJWTManager()
	userID := uuid.New()

	var gotType domain.ActorType
	var gotID *uuid.UUID
	h := AuthenticateUser(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType, gotID = Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := mgr.GenerateToken(RealmUser, userID, "", "")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, domain.ActorUser, gotType)
		require.NotNil(t, gotID)
		assert.Equal(t, userID, *gotID)
	})

	t.Run("admin token on user route", func(t *testing.T) {
		token, err := mgr.GenerateToken(RealmAdmin, uuid.New(), "", RoleAdmin)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credits/balance", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	mgr := newTestJWTManager()
	h := AuthenticateAdmin(mgr)(RequireRole(WriteRoles()...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorType, _ := Actor(r.Context())
		assert.Equal(t, domain.ActorAdmin, actorType)
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		role string
		want int
	}{
		{RoleSuperAdmin, http.StatusOK},
		{RoleAdmin, http.StatusOK},
		{RoleViewer, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, err := mgr.GenerateToken(RealmAdmin, uuid.New(), "", tt.role)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/admin/auctions/close-expired", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestActorWithoutClaims(t *testing.T) {
	actorType, id := Actor(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.Equal(t, domain.ActorSystem, actorType)
	assert.Nil(t, id)
}

func TestAdminRoleMustBeKnown(t *testing.T) {
	mgr := newTestJWTManager()

	_, err := mgr.GenerateToken(RealmAdmin, uuid.New(), "", "owner")
	require.Error(t, err)

	// A correctly signed token with a role outside the admin set is refused.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Realm: RealmAdmin,
		Role:  "owner",
	})
	signed, err := forged.SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	_, err = mgr.ValidateTokenForRealm(signed, RealmAdmin)
	assert.Error(t, err)

	assert.True(t, IsAdminRole(RoleViewer))
	assert.False(t, IsAdminRole(""))
}
