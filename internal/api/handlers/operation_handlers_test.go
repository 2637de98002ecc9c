package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"barsync-go/config"
	"barsync-go/internal/api/middleware"
	"barsync-go/internal/core/models"
	"barsync-go/internal/identity"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"
	"barsync-go/internal/services/intake"
	"barsync-go/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingApplier struct{ err error }

func (a *rejectingApplier) Apply(ctx context.Context, op *models.Operation) (*remote.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &remote.Result{RemoteID: "remote-" + op.ID}, nil
}

func (a *rejectingApplier) Ping(ctx context.Context) error { return nil }

func newAPIRouter(t *testing.T, applier remote.Applier, withI18n bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	q := queue.New(store.NewMemory())
	classifier := network.NewClassifier(config.NetworkConfig{
		WindowSize:           5,
		ConsecutiveFailures:  3,
		FailureRateThreshold: 0.5,
		LatencyThreshold:     time.Hour,
		ProbeTimeout:         time.Second,
	}, applier)
	svc := intake.NewService(q, classifier, applier,
		config.RemoteConfig{ForegroundTimeout: time.Second},
		config.VenueConfig{ClosingHour: 6})
	idRouter := identity.NewRouter(config.SessionConfig{ActingAsTTL: 30 * time.Minute})

	router := gin.New()
	router.Use(sessions.Sessions("session", cookie.NewStore([]byte("test-secret"))))
	if withI18n {
		router.Use(middleware.I18n(middleware.I18nConfig{
			DefaultLanguage: "fr",
			LocalesDir:      "../../../web/locales",
		}))
	}

	api := router.Group("/api")
	NewOperationHandler(q, svc, idRouter).RegisterRoutes(api)
	NewSessionHandler(idRouter).RegisterRoutes(api)
	return router
}

// login establishes a terminal session and returns the cookies to carry
// on subsequent requests.
func login(t *testing.T, router *gin.Engine, userID string) []*http.Cookie {
	t.Helper()

	body, _ := json.Marshal(gin.H{"user_id": userID})
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

func postSale(router *gin.Engine, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	body, _ := json.Marshal(gin.H{
		"scope_id": "bar-1",
		"payload": models.CreateSalePayload{
			Items:         []models.SaleItem{{ProductID: "beer-33", Quantity: 1, UnitPrice: 450}},
			PaymentMethod: "cash",
		},
	})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmit_RejectionErrorIsLocalized(t *testing.T) {
	applier := &rejectingApplier{err: &remote.Error{Kind: remote.KindApplicationRejected, Message: "unknown product"}}
	router := newAPIRouter(t, applier, true)
	cookies := login(t, router, "user-1")

	rec := postSale(router, "/api/operations/sales?lang=en", cookies)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "The server rejected this action", body["error"])
	assert.Equal(t, "unknown product", body["detail"])
}

func TestSubmit_RejectionErrorUsesDefaultLanguage(t *testing.T) {
	applier := &rejectingApplier{err: &remote.Error{Kind: remote.KindAuthorizationDenied, Message: "till closed"}}
	router := newAPIRouter(t, applier, true)
	cookies := login(t, router, "user-1")

	// No lang parameter: the venue default (French) applies.
	rec := postSale(router, "/api/operations/sales", cookies)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Vous n'êtes pas autorisé à effectuer cette action", body["error"])
	assert.Equal(t, "till closed", body["detail"])
}

func TestSubmit_ErrorFallsBackWithoutTranslator(t *testing.T) {
	applier := &rejectingApplier{err: &remote.Error{Kind: remote.KindApplicationRejected, Message: "unknown product"}}
	router := newAPIRouter(t, applier, false)
	cookies := login(t, router, "user-1")

	rec := postSale(router, "/api/operations/sales", cookies)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown product", body["error"])
}
