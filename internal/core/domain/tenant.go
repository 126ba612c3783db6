package domain

// TenantLimits holds per-tenant admission ceilings. A nil field means unlimited.
type TenantLimits struct {
	CustomerID        string `json:"customerId"`
	MaxConcurrentJobs *int   `json:"maxConcurrentJobs,omitempty"`
	MaxJobsPerMinute  *int   `json:"maxJobsPerMinute,omitempty"`
	MaxJobsPerHour    *int   `json:"maxJobsPerHour,omitempty"`
}

type TenantActivity struct {
	Active     int `json:"active"`
	LastMinute int `json:"lastMinute"`
	LastHour   int `json:"lastHour"`
}

const (
	ReasonConcurrentJobs = "concurrent_jobs"
	ReasonJobsPerMinute  = "jobs_per_minute"
	ReasonJobsPerHour    = "jobs_per_hour"
)

type AdmissionDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ApproachingRatio is the advisory threshold used to warn before rejection.
const ApproachingRatio = 0.8

type ThresholdUsage struct {
	Current     int     `json:"current"`
	Limit       *int    `json:"limit,omitempty"`
	Ratio       float64 `json:"ratio"`
	Approaching bool    `json:"approaching"`
	Exceeded    bool    `json:"exceeded"`
}

type TenantUsage struct {
	CustomerID     string         `json:"customerId"`
	ConcurrentJobs ThresholdUsage `json:"concurrentJobs"`
	JobsPerMinute  ThresholdUsage `json:"jobsPerMinute"`
	JobsPerHour    ThresholdUsage `json:"jobsPerHour"`
	Approaching    bool           `json:"approaching"`
}

func NewThresholdUsage(current int, limit *int) ThresholdUsage {
	usage := ThresholdUsage{Current: current, Limit: limit}
	if limit == nil {
		return usage
	}
	if *limit > 0 {
		usage.Ratio = float64(current) / float64(*limit)
	} else {
		usage.Ratio = 1
	}
	usage.Exceeded = current >= *limit
	usage.Approaching = usage.Ratio >= ApproachingRatio
	return usage
}

// Admit compares activity against limits; the first exceeded threshold wins.
func Admit(limits *TenantLimits, activity TenantActivity) AdmissionDecision {
	if limits == nil {
		return AdmissionDecision{Allowed: true}
	}
	switch {
	case atOrAbove(activity.Active, limits.MaxConcurrentJobs):
		return AdmissionDecision{Reason: ReasonConcurrentJobs}
	case atOrAbove(activity.LastMinute, limits.MaxJobsPerMinute):
		return AdmissionDecision{Reason: ReasonJobsPerMinute}
	case atOrAbove(activity.LastHour, limits.MaxJobsPerHour):
		return AdmissionDecision{Reason: ReasonJobsPerHour}
	}
	return AdmissionDecision{Allowed: true}
}

func atOrAbove(current int, limit *int) bool {
	return limit != nil && current >= *limit
}
