package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// TenantRateLimiter decides admission from recent Job Store activity.
//
// The check and the subsequent job insert are not atomic: concurrent
// submissions from one tenant can both pass and overshoot a ceiling by a
// small margin. The limit is soft.
type TenantRateLimiter struct {
	limits   ports.TenantLimitsStore
	activity ports.JobActivityReader
	now      func() time.Time
}

func NewTenantRateLimiter(limits ports.TenantLimitsStore, activity ports.JobActivityReader) *TenantRateLimiter {
	return &TenantRateLimiter{
		limits:   limits,
		activity: activity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *TenantRateLimiter) CheckAdmission(ctx context.Context, customerID, _ string) (domain.AdmissionDecision, error) {
	customerID, err := normalizeCustomerID(customerID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	limits, err := l.limits.GetLimits(ctx, customerID)
	if err != nil {
		return domain.AdmissionDecision{}, domain.WrapError(domain.ErrTemporary, "load tenant limits", err)
	}
	if limits == nil {
		return domain.AdmissionDecision{Allowed: true}, nil
	}
	activity, err := l.activity.TenantActivity(ctx, customerID, l.now())
	if err != nil {
		return domain.AdmissionDecision{}, domain.WrapError(domain.ErrTemporary, "count tenant activity", err)
	}
	return domain.Admit(limits, activity), nil
}

// Usage is advisory only; it flags thresholds at 80% so callers can warn
// before admission starts rejecting.
func (l *TenantRateLimiter) Usage(ctx context.Context, customerID string) (domain.TenantUsage, error) {
	limits, activity, err := l.load(ctx, customerID)
	if err != nil {
		return domain.TenantUsage{}, err
	}
	if limits == nil {
		limits = &domain.TenantLimits{CustomerID: customerID}
	}

	usage := domain.TenantUsage{
		CustomerID:     customerID,
		ConcurrentJobs: domain.NewThresholdUsage(activity.Active, limits.MaxConcurrentJobs),
		JobsPerMinute:  domain.NewThresholdUsage(activity.LastMinute, limits.MaxJobsPerMinute),
		JobsPerHour:    domain.NewThresholdUsage(activity.LastHour, limits.MaxJobsPerHour),
	}
	usage.Approaching = usage.ConcurrentJobs.Approaching || usage.JobsPerMinute.Approaching || usage.JobsPerHour.Approaching
	return usage, nil
}

func (l *TenantRateLimiter) load(ctx context.Context, customerID string) (*domain.TenantLimits, domain.TenantActivity, error) {
	customerID, err := normalizeCustomerID(customerID)
	if err != nil {
		return nil, domain.TenantActivity{}, err
	}

	limits, err := l.limits.GetLimits(ctx, customerID)
	if err != nil {
		return nil, domain.TenantActivity{}, domain.WrapError(domain.ErrTemporary, "load tenant limits", err)
	}
	activity, err := l.activity.TenantActivity(ctx, customerID, l.now())
	if err != nil {
		return nil, domain.TenantActivity{}, domain.WrapError(domain.ErrTemporary, "count tenant activity", err)
	}
	return limits, activity, nil
}

func normalizeCustomerID(customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "rate limit", fmt.Errorf("customer id is required"))
	}
	return customerID, nil
}
