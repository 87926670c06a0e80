package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func seedPayments(t *testing.T, s *testServer) {
	t.Helper()
	s.db.Create(&models.Course{ID: "C1", Title: "Go Basics", TutorID: "T1"})
	s.db.Create(&models.Course{ID: "C2", Title: "Rust", TutorID: "T2"})

	store := services.NewPaymentStore(s.db)
	for i, course := range []string{"C1", "C1", "C2"} {
		c := course
		u := "U1"
		if _, err := store.CreatePayment(context.Background(), &models.Payment{
			TransactionRef: "INV-" + string(rune('1'+i)),
			Amount:         decimal.NewFromInt(int64(100 * (i + 1))),
			Currency:       "KES",
			Status:         models.PaymentStatusCompleted,
			CourseID:       &c,
			UserID:         &u,
			PaymentGateway: models.PaymentGatewayIntaSend,
			PaidAt:         time.Now().Add(-time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}
}

func TestCoursePaymentsAccess(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		wantCount  int
	}{
		{name: "no token", path: "/api/courses/C1/payments", wantStatus: http.StatusUnauthorized},
		{name: "owner", path: "/api/courses/C1/payments", token: "tutor-1", wantStatus: http.StatusOK, wantCount: 2},
		{name: "other tutor", path: "/api/courses/C1/payments", token: "tutor-2", wantStatus: http.StatusForbidden},
		{name: "admin", path: "/api/courses/C2/payments", token: "admin", wantStatus: http.StatusOK, wantCount: 1},
		{name: "unknown course", path: "/api/courses/C9/payments", token: "admin", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			seedPayments(t, s)

			var headers map[string]string
			if tt.token != "" {
				headers = bearer(tt.token)
			}
			rec := s.do(http.MethodGet, tt.path, "", headers)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body PaymentsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Payments) != tt.wantCount {
				t.Errorf("payments = %d; want %d", len(body.Payments), tt.wantCount)
			}
		})
	}
}

func TestTutorPayments(t *testing.T) {
	s := newTestServer(t)
	seedPayments(t, s)

	rec := s.do(http.MethodGet, "/api/tutors/T1/payments?status=completed", "", bearer("tutor-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var body PaymentsResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Payments) != 2 {
		t.Errorf("payments = %d; want 2", len(body.Payments))
	}

	if rec := s.do(http.MethodGet, "/api/tutors/T1/payments?status=weird", "", bearer("tutor-1")); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status filter: status = %d; want 400", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/tutors/T1/payments", "", bearer("tutor-2")); rec.Code != http.StatusForbidden {
		t.Errorf("other tutor: status = %d; want 403", rec.Code)
	}
}

func TestTutorEarnings(t *testing.T) {
	s := newTestServer(t)
	seedPayments(t, s)

	rec := s.do(http.MethodGet, "/api/tutors/T1/earnings?range=3m", "", bearer("tutor-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var report services.EarningsReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.TotalRevenue.Equal(decimal.NewFromInt(300)) {
		t.Errorf("total revenue = %s; want 300", report.TotalRevenue)
	}
	if len(report.Revenue) != 3 || report.Range != "3m" {
		t.Errorf("range = %s with %d points; want 3m with 3", report.Range, len(report.Revenue))
	}

	if report.Currency != "KES" || report.TotalEnrollments != 2 {
		t.Errorf("report = %s with %d enrollments; want KES with 2", report.Currency, report.TotalEnrollments)
	}

	rec = s.do(http.MethodGet, "/api/tutors/T1/earnings?range=3m&currency=idr", "", bearer("tutor-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("idr: status = %d; want 200", rec.Code)
	}
	var idr services.EarningsReport
	if err := json.Unmarshal(rec.Body.Bytes(), &idr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idr.Currency != "IDR" || !idr.TotalRevenue.IsZero() || idr.TotalEnrollments != 2 {
		t.Errorf("idr report = %s %s / %d; want IDR 0 / 2", idr.Currency, idr.TotalRevenue, idr.TotalEnrollments)
	}

	for _, query := range []string{"range=5y", "currency=shillings"} {
		if rec := s.do(http.MethodGet, "/api/tutors/T1/earnings?"+query, "", bearer("tutor-1")); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d; want 400", query, rec.Code)
		}
	}
}

func TestExportTutorPayments(t *testing.T) {
	s := newTestServer(t)
	seedPayments(t, s)

	rec := s.do(http.MethodGet, "/api/tutors/T1/earnings/export", "", bearer("tutor-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != mimeXLSX {
		t.Errorf("content type = %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Payments")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d; want header + 2", len(rows))
	}
}

func TestEnrollmentFailuresAdminOnly(t *testing.T) {
	s := newTestServer(t)
	store := services.NewPaymentStore(s.db)
	store.RecordEnrollmentFailure(context.Background(), &models.EnrollmentFailure{TransactionRef: "INV-9", CourseID: "C1", Reason: "boom"})

	if rec := s.do(http.MethodGet, "/api/reconciliation/failures", "", bearer("tutor-1")); rec.Code != http.StatusForbidden {
		t.Errorf("tutor: status = %d; want 403", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/reconciliation/failures?status=pending&limit=10", "", bearer("admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: status = %d; want 200", rec.Code)
	}
	var body struct {
		Failures []models.EnrollmentFailure `json:"failures"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Failures) != 1 || body.Failures[0].TransactionRef != "INV-9" {
		t.Errorf("failures = %+v", body.Failures)
	}

	if rec := s.do(http.MethodGet, "/api/reconciliation/failures?limit=-1", "", bearer("admin")); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d; want 400", rec.Code)
	}
}

func TestMe(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
		want       IdentityResponse
	}{
		{name: "tutor", token: "tutor-1", wantStatus: http.StatusOK, want: IdentityResponse{UID: "T1"}},
		{name: "admin", token: "admin", wantStatus: http.StatusOK, want: IdentityResponse{UID: "A1", IsAdmin: true}},
		{name: "bad token", token: "nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodGet, "/api/me", "", bearer(tt.token))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got IdentityResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("identity = %+v; want %+v", got, tt.want)
			}
		})
	}
}
