package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

var (
	ErrInvalidRange    = errors.New("invalid earnings range")
	ErrInvalidCurrency = errors.New("invalid report currency")
)

// EarningsRanges maps the accepted range keys to the months they cover
var EarningsRanges = map[string]int{
	"1m":  1,
	"3m":  3,
	"6m":  6,
	"12m": 12,
}

const (
	defaultEarningsRange  = "12m"
	defaultReportCurrency = "KES"
	recentPaymentsLimit   = 5
	earningsCacheTTL      = 10 * time.Minute
	exportSheetName       = "Payments"
)

type RevenuePoint struct {
	Month       string          `json:"month"`
	Revenue     decimal.Decimal `json:"revenue"`
	Enrollments int             `json:"enrollments"`
}

type CourseEarning struct {
	ID           string          `json:"id"`
	Course       string          `json:"course"`
	Enrollments  int             `json:"enrollments"`
	Revenue      decimal.Decimal `json:"revenue"`
	LastEnrolled *time.Time      `json:"last_enrolled"`
}

type PaymentSummary struct {
	TransactionRef string               `json:"transaction_ref"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	CourseID       string               `json:"course_id"`
	Status         models.PaymentStatus `json:"status"`
	PaidAt         time.Time            `json:"paid_at"`
}

// EarningsReport is a tutor's earnings dashboard. Totals are all-time; the
// revenue series covers the requested range. Revenue figures only add up
// payments in Currency; enrollment counts cover every course-linked payment.
// Currencies lists every currency the tutor has been paid in.
type EarningsReport struct {
	TutorID          string           `json:"tutor_id"`
	Range            string           `json:"range"`
	Currency         string           `json:"currency"`
	Currencies       []string         `json:"currencies"`
	TotalRevenue     decimal.Decimal  `json:"total_revenue"`
	TotalEnrollments int              `json:"total_enrollments"`
	Revenue          []RevenuePoint   `json:"revenue"`
	Courses          []CourseEarning  `json:"courses"`
	RecentPayments   []PaymentSummary `json:"recent_payments"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

type ReportStore interface {
	PaymentsByTutor(ctx context.Context, tutorID string, status models.PaymentStatus) ([]models.Payment, error)
	CoursesByTutor(ctx context.Context, tutorID string) ([]models.Course, error)
	CourseByID(ctx context.Context, id string) (*models.Course, error)
}

// EarningsService builds tutor earnings from completed payments. Reports are
// cached per tutor, range and currency when a cache is configured.
type EarningsService struct {
	store ReportStore
	cache *RedisCache
	now   func() time.Time
}

func NewEarningsService(store ReportStore, cache *RedisCache) *EarningsService {
	return &EarningsService{store: store, cache: cache, now: time.Now}
}

// ParseEarningsRange validates a range key; empty means twelve months
func ParseEarningsRange(key string) (string, int, error) {
	if key == "" {
		key = defaultEarningsRange
	}
	months, ok := EarningsRanges[key]
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidRange, key)
	}
	return key, months, nil
}

// ParseReportCurrency validates an ISO 4217 code; empty means KES
func ParseReportCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return defaultReportCurrency, nil
	}
	if !isCurrencyCode(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return code, nil
}

// Cached reports are keyed by a per-tutor generation; invalidating bumps the
// generation and the old entries age out with their TTL.
func earningsGenerationKey(tutorID string) string {
	return "earnings:" + tutorID + ":gen"
}

func earningsCacheKey(tutorID string, generation int64, rangeKey, currency string) string {
	return fmt.Sprintf("earnings:%s:%d:%s:%s", tutorID, generation, rangeKey, currency)
}

func (s *EarningsService) generation(ctx context.Context, tutorID string) int64 {
	if s.cache == nil {
		return 0
	}
	var gen int64
	if err := s.cache.Get(ctx, earningsGenerationKey(tutorID), &gen); err != nil && !errors.Is(err, ErrCacheMiss) {
		log.Printf("WARN: Failed to read earnings generation for %s: %v", tutorID, err)
	}
	return gen
}

func (s *EarningsService) TutorEarnings(ctx context.Context, tutorID, rangeKey, currency string) (*EarningsReport, error) {
	rangeKey, months, err := ParseEarningsRange(rangeKey)
	if err != nil {
		return nil, err
	}
	currency, err = ParseReportCurrency(currency)
	if err != nil {
		return nil, err
	}

	key := earningsCacheKey(tutorID, s.generation(ctx, tutorID), rangeKey, currency)
	report, err := GetOrSet(s.cache, ctx, key, earningsCacheTTL, func() (EarningsReport, error) {
		courses, err := s.store.CoursesByTutor(ctx, tutorID)
		if err != nil {
			return EarningsReport{}, fmt.Errorf("load courses for tutor %s: %w", tutorID, err)
		}
		payments, err := s.store.PaymentsByTutor(ctx, tutorID, models.PaymentStatusCompleted)
		if err != nil {
			return EarningsReport{}, fmt.Errorf("load payments for tutor %s: %w", tutorID, err)
		}
		return BuildEarningsReport(tutorID, rangeKey, months, currency, courses, payments, s.now()), nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// InvalidateCourse drops the cached reports of the course's tutor
func (s *EarningsService) InvalidateCourse(ctx context.Context, courseID string) error {
	if s.cache == nil {
		return nil
	}
	course, err := s.store.CourseByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	_, err = s.cache.Increment(ctx, earningsGenerationKey(course.TutorID))
	return err
}

// BuildEarningsReport aggregates completed payments into the report. Months
// are bucketed in UTC and the series always has one point per month.
func BuildEarningsReport(tutorID, rangeKey string, months int, currency string, courses []models.Course, payments []models.Payment, now time.Time) EarningsReport {
	now = now.UTC()
	report := EarningsReport{
		TutorID:        tutorID,
		Range:          rangeKey,
		Currency:       currency,
		Currencies:     []string{},
		TotalRevenue:   decimal.Zero,
		Revenue:        make([]RevenuePoint, months),
		Courses:        make([]CourseEarning, 0, len(courses)),
		RecentPayments: []PaymentSummary{},
		GeneratedAt:    now,
	}

	sorted := make([]models.Payment, len(payments))
	copy(sorted, payments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PaidAt.After(sorted[j].PaidAt)
	})

	for i := 0; i < months; i++ {
		month := time.Date(now.Year(), now.Month()-time.Month(months-1-i), 1, 0, 0, 0, 0, time.UTC)
		report.Revenue[i] = RevenuePoint{Month: month.Format("Jan 2006"), Revenue: decimal.Zero}
	}

	byCourse := make(map[string]*CourseEarning, len(courses))
	for _, c := range courses {
		report.Courses = append(report.Courses, CourseEarning{ID: c.ID, Course: c.Title, Revenue: decimal.Zero})
	}
	for i := range report.Courses {
		byCourse[report.Courses[i].ID] = &report.Courses[i]
	}

	seen := make(map[string]bool)
	for _, p := range sorted {
		if p.Status != models.PaymentStatusCompleted {
			continue
		}
		code := strings.ToUpper(p.Currency)
		if code != "" && !seen[code] {
			seen[code] = true
			report.Currencies = append(report.Currencies, code)
		}
		counted := code == currency

		if len(report.RecentPayments) < recentPaymentsLimit {
			report.RecentPayments = append(report.RecentPayments, summarize(p))
		}

		var point *RevenuePoint
		paidAt := p.PaidAt.UTC()
		since := (now.Year()-paidAt.Year())*12 + int(now.Month()) - int(paidAt.Month())
		if since >= 0 && since < months {
			point = &report.Revenue[months-1-since]
		}

		if counted {
			report.TotalRevenue = report.TotalRevenue.Add(p.Amount)
			if point != nil {
				point.Revenue = point.Revenue.Add(p.Amount)
			}
		}

		if p.CourseID == nil {
			continue
		}
		report.TotalEnrollments++
		if point != nil {
			point.Enrollments++
		}
		if ce, ok := byCourse[*p.CourseID]; ok {
			if counted {
				ce.Revenue = ce.Revenue.Add(p.Amount)
			}
			ce.Enrollments++
			if ce.LastEnrolled == nil {
				t := p.PaidAt
				ce.LastEnrolled = &t
			}
		}
	}
	sort.Strings(report.Currencies)
	return report
}

func summarize(p models.Payment) PaymentSummary {
	s := PaymentSummary{
		TransactionRef: p.TransactionRef,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		PaidAt:         p.PaidAt,
	}
	if p.CourseID != nil {
		s.CourseID = *p.CourseID
	}
	return s
}

// ExportPaymentsXLSX writes every payment of the tutor's courses as a
// single-sheet workbook.
func (s *EarningsService) ExportPaymentsXLSX(ctx context.Context, tutorID string, w io.Writer) error {
	courses, err := s.store.CoursesByTutor(ctx, tutorID)
	if err != nil {
		return fmt.Errorf("load courses for tutor %s: %w", tutorID, err)
	}
	payments, err := s.store.PaymentsByTutor(ctx, tutorID, "")
	if err != nil {
		return fmt.Errorf("load payments for tutor %s: %w", tutorID, err)
	}

	titles := make(map[string]string, len(courses))
	for _, c := range courses {
		titles[c.ID] = c.Title
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheetName); err != nil {
		return err
	}

	header := []interface{}{"Transaction Ref", "Course", "Amount", "Currency", "Status", "Gateway", "Paid At"}
	if err := f.SetSheetRow(exportSheetName, "A1", &header); err != nil {
		return err
	}

	for i, p := range payments {
		course := ""
		if p.CourseID != nil {
			course = titles[*p.CourseID]
		}
		row := []interface{}{
			p.TransactionRef,
			course,
			p.Amount.InexactFloat64(),
			p.Currency,
			string(p.Status),
			string(p.PaymentGateway),
			p.PaidAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheetName, cell, &row); err != nil {
			return err
		}
	}

	return f.Write(w)
}
