package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/middleware"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

const (
	defaultFailureLimit = 100
	maxFailureLimit     = 500
	mimeXLSX            = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ReportsHandler serves the read side: payments per course or tutor, the
// earnings dashboard and the reconciliation queue.
type ReportsHandler struct {
	store    *services.PaymentStore
	earnings *services.EarningsService
}

func NewReportsHandler(store *services.PaymentStore, earnings *services.EarningsService) *ReportsHandler {
	return &ReportsHandler{store: store, earnings: earnings}
}

type PaymentsResponse struct {
	Payments []models.Payment `json:"payments"`
}

// CoursePayments lists the payments of one course
func (h *ReportsHandler) CoursePayments(c echo.Context) error {
	ctx := c.Request().Context()

	course, err := h.store.CourseByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "course not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load course")
	}
	if !canReadTutor(c, course.TutorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to read this course")
	}

	payments, err := h.store.PaymentsByCourse(ctx, course.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load payments")
	}
	return c.JSON(http.StatusOK, PaymentsResponse{Payments: nonNil(payments)})
}

// TutorPayments lists the payments across a tutor's course set
func (h *ReportsHandler) TutorPayments(c echo.Context) error {
	tutorID := c.Param("id")
	if !canReadTutor(c, tutorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to read this tutor")
	}

	status := models.PaymentStatus(c.QueryParam("status"))
	switch status {
	case "", models.PaymentStatusCompleted, models.PaymentStatusPending, models.PaymentStatusFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}

	payments, err := h.store.PaymentsByTutor(c.Request().Context(), tutorID, status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load payments")
	}
	return c.JSON(http.StatusOK, PaymentsResponse{Payments: nonNil(payments)})
}

// TutorEarnings returns the earnings dashboard for ?range=1m|3m|6m|12m and
// an optional ?currency= (KES by default)
func (h *ReportsHandler) TutorEarnings(c echo.Context) error {
	tutorID := c.Param("id")
	if !canReadTutor(c, tutorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to read this tutor")
	}

	report, err := h.earnings.TutorEarnings(c.Request().Context(), tutorID, c.QueryParam("range"), c.QueryParam("currency"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidRange) || errors.Is(err, services.ErrInvalidCurrency) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build earnings report")
	}
	return c.JSON(http.StatusOK, report)
}

// ExportTutorPayments downloads the tutor's payments as an XLSX workbook
func (h *ReportsHandler) ExportTutorPayments(c echo.Context) error {
	tutorID := c.Param("id")
	if !canReadTutor(c, tutorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to read this tutor")
	}

	var buf bytes.Buffer
	if err := h.earnings.ExportPaymentsXLSX(c.Request().Context(), tutorID, &buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to export payments")
	}

	filename := fmt.Sprintf("payments-%s-%s.xlsx", tutorID, time.Now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

// EnrollmentFailures lists dead-lettered enrollments for support staff
func (h *ReportsHandler) EnrollmentFailures(c echo.Context) error {
	status := models.EnrollmentFailureStatus(c.QueryParam("status"))
	switch status {
	case "", models.EnrollmentFailureStatusPending, models.EnrollmentFailureStatusResolved, models.EnrollmentFailureStatusExhausted:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}

	limit := defaultFailureLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxFailureLimit {
		limit = maxFailureLimit
	}

	failures, err := h.store.EnrollmentFailures(c.Request().Context(), status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load enrollment failures")
	}
	if failures == nil {
		failures = []models.EnrollmentFailure{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"failures": failures,
	})
}

// canReadTutor lets tutors read their own data and admins read everything
func canReadTutor(c echo.Context, tutorID string) bool {
	if isAdmin, _ := c.Get(middleware.ContextIsAdmin).(bool); isAdmin {
		return true
	}
	uid := getStringFromContext(c, middleware.ContextUserUID)
	return uid != "" && uid == tutorID
}

func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}

func nonNil(payments []models.Payment) []models.Payment {
	if payments == nil {
		return []models.Payment{}
	}
	return payments
}
