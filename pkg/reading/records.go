package reading

import "time"

// Thresholds used by the alerting and maintenance subsystems. They are kept
// here so every consumer of the enriched stream reads the same numbers;
// nothing in ingestion evaluates them.
const (
	CH4MinPercent            = 65.0
	CH4MaxPercent            = 80.0
	PressureMinPSI           = 15.0
	PressureMaxPSI           = 200.0
	TempMaxDeltaF            = 10.0 // per 5 minutes
	MotorCurrentMaxDeviation = 20.0 // percent
	AlertRetentionDays       = 90
)

// Severity of an anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is the record shape written by the anomaly detector.
type Anomaly struct {
	ID                int64      `json:"id"`
	Timestamp         time.Time  `json:"timestamp"`
	DetectedAt        time.Time  `json:"detected_at"`
	AnomalyType       string     `json:"anomaly_type"` // statistical, ml, rule-based
	Severity          Severity   `json:"severity"`
	Confidence        float64    `json:"confidence"`
	System            string     `json:"system"`
	Sensor            string     `json:"sensor"`
	ExpectedValue     *float64   `json:"expected_value,omitempty"`
	ActualValue       *float64   `json:"actual_value,omitempty"`
	Deviation         *float64   `json:"deviation,omitempty"`
	Description       string     `json:"description"`
	RecommendedAction string     `json:"recommended_action"`
	Acknowledged      bool       `json:"acknowledged"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string     `json:"acknowledged_by,omitempty"`
	Resolved          bool       `json:"resolved"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// MaintenanceEvent is the record shape written by the maintenance planner.
type MaintenanceEvent struct {
	ID                       int64      `json:"id"`
	Timestamp                time.Time  `json:"timestamp"`
	EventType                string     `json:"event_type"` // predicted, scheduled, unplanned
	Equipment                string     `json:"equipment"`
	Component                string     `json:"component"`
	PredictedFailureTime     *time.Time `json:"predicted_failure_time,omitempty"`
	Confidence               *float64   `json:"confidence,omitempty"`
	RemainingUsefulLifeHours *float64   `json:"remaining_useful_life_hours,omitempty"`
	Description              string     `json:"description"`
	Priority                 string     `json:"priority"`
	EstimatedDowntimeHours   *float64   `json:"estimated_downtime_hours,omitempty"`
	Status                   string     `json:"status"`
	ScheduledDate            *time.Time `json:"scheduled_date,omitempty"`
	CompletedDate            *time.Time `json:"completed_date,omitempty"`
}
