package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/middleware"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

const (
	testIntaSendSecret = "whsec_test"
	testMidtransKey    = "SB-Mid-server-test"
)

type fakeProvider struct {
	calls   int
	last    services.PaymentRequest
	status  int
	body    string
	ref     string
	failErr error
}

func (f *fakeProvider) Gateway() models.PaymentGateway { return models.PaymentGatewayIntaSend }

func (f *fakeProvider) CreateCheckout(ctx context.Context, req services.PaymentRequest) (*services.CheckoutResult, error) {
	f.calls++
	f.last = req
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &services.CheckoutResult{
		Gateway:        models.PaymentGatewayIntaSend,
		StatusCode:     f.status,
		Body:           json.RawMessage(f.body),
		TransactionRef: f.ref,
	}, nil
}

type fakeVerifier map[string]*auth.Token

func (f fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := f[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("invalid token")
}

type testServer struct {
	e        *echo.Echo
	db       *gorm.DB
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := services.NewPaymentStore(db)
	earnings := services.NewEarningsService(store, nil)
	provider := &fakeProvider{status: http.StatusOK, body: `{"id":"CHK-1","invoice_id":"INV-1"}`, ref: "INV-1"}

	e := echo.New()
	e.HTTPErrorHandler = middleware.CustomErrorHandler
	RegisterRoutes(e, Dependencies{
		Checkout: services.NewCheckoutService(provider),
		Webhooks: services.NewWebhookProcessor(store, nil, earnings),
		Store:    store,
		Earnings: earnings,
		Verifier: fakeVerifier{
			"tutor-1": {UID: "T1", Claims: map[string]interface{}{}},
			"tutor-2": {UID: "T2", Claims: map[string]interface{}{}},
			"admin":   {UID: "A1", Claims: map[string]interface{}{"admin": true}},
		},
		IntaSendSecret:    testIntaSendSecret,
		MidtransServerKey: testMidtransKey,
	})

	return &testServer{e: e, db: db, provider: provider}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}
