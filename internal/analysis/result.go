package analysis

import "encoding/json"

// RiskTrusted is the verdict written over a result whose sender is trusted
const RiskTrusted = "trusted"

// Alarm is one finding produced by a remote analyzer. Only rendered.
type Alarm struct {
	Analyzer    string          `json:"analyzer,omitempty"`
	AlarmType   string          `json:"alarm_type,omitempty"`
	Severity    string          `json:"severity,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// DisplayTitle returns the title, falling back to the alarm type
func (a Alarm) DisplayTitle() string {
	if a.Title != "" {
		return a.Title
	}
	return a.AlarmType
}

// DisplaySeverity returns the severity, "info" when unset
func (a Alarm) DisplaySeverity() string {
	if a.Severity == "" {
		return "info"
	}
	return a.Severity
}

// Metadata describes how the remote service produced a result
type Metadata struct {
	AnalyzersRun   []string `json:"analyzers_run,omitempty"`
	AnalysisTimeMs *float64 `json:"analysis_time_ms,omitempty"`
}

// Result is the verdict returned by the remote analysis service
type Result struct {
	RiskLevel      string   `json:"risk_level"`
	RiskLevelLabel string   `json:"risk_level_label,omitempty"`
	Alarms         []Alarm  `json:"alarms"`
	Metadata       Metadata `json:"metadata"`
}

// Risk returns the risk level, "low" when unset
func (r *Result) Risk() string {
	if r == nil || r.RiskLevel == "" {
		return "low"
	}
	return r.RiskLevel
}

// Label returns the display label for the risk level
func (r *Result) Label() string {
	if r != nil && r.RiskLevelLabel != "" {
		return r.RiskLevelLabel
	}
	return r.Risk()
}

// IsTrusted reports whether the trust overlay was applied
func (r *Result) IsTrusted() bool {
	return r != nil && r.RiskLevel == RiskTrusted
}

// OverlayTrusted replaces the verdict with the trusted one. Alarms are kept.
func (r *Result) OverlayTrusted(label string) {
	if r == nil {
		return
	}
	r.RiskLevel = RiskTrusted
	r.RiskLevelLabel = label
}

// Clone returns a copy that shares no slices with r
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Alarms != nil {
		c.Alarms = make([]Alarm, len(r.Alarms))
		copy(c.Alarms, r.Alarms)
	}
	if r.Metadata.AnalyzersRun != nil {
		c.Metadata.AnalyzersRun = append([]string(nil), r.Metadata.AnalyzersRun...)
	}
	if r.Metadata.AnalysisTimeMs != nil {
		t := *r.Metadata.AnalysisTimeMs
		c.Metadata.AnalysisTimeMs = &t
	}
	return &c
}
