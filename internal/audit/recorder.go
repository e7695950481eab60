package audit

import "context"

// Logger is the logging surface the Recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder stamps entries with a fixed source. Failures are logged, never
// returned: the audit trail must not block onboarding.
type Recorder struct {
	repo   Repository
	source string
	logger Logger
}

// NewRecorder creates a recorder writing to repo. logger may be nil.
func NewRecorder(repo Repository, source string, logger Logger) *Recorder {
	return &Recorder{repo: repo, source: source, logger: logger}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, action, deviceID string, details map[string]any) {
	err := r.repo.Create(ctx, &Entry{
		Action:   action,
		DeviceID: deviceID,
		Source:   r.source,
		Details:  details,
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("audit record failed", "action", action, "device_id", deviceID, "error", err)
	}
}
