package job

import (
	"errors"
	"fmt"
	"time"

	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/pkg/errs"
	"authjobs/internal/pkg/guard"
)

const (
	// DefaultMaxAttempts bounds how many times a job may be claimed.
	DefaultMaxAttempts = 6

	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff = 60 * time.Minute

	retryBackoffUnit = 5 * time.Minute
)

// ErrScheduledJobIsNotConstructed is returned for zero-value jobs.
var ErrScheduledJobIsNotConstructed = errors.New("ScheduledJob must be created via NewScheduledJob or RestoreScheduledJob")

// ErrCannotRetry is returned when a retry is requested for a job that is not
// Failed or has used all of its attempts.
var ErrCannotRetry = errors.New("job cannot be retried")

// RetryBackoff is the delay before a failed job runs again:
// min(60, 2^attempts * 5) minutes.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := retryBackoffUnit
	for range attempts {
		delay *= 2
		if delay >= MaxRetryBackoff {
			return MaxRetryBackoff
		}
	}
	return min(delay, MaxRetryBackoff)
}

// Snapshot is the full persisted state of a scheduled job.
type Snapshot struct {
	ID              kernel.UUID
	Type            Type
	Status          Status
	AuthorizationID kernel.UUID
	BookingID       *kernel.UUID
	Payload         Payload
	ScheduledAt     time.Time
	Priority        int
	Attempts        int
	MaxAttempts     int
	Result          *Result
	ErrorKind       ErrorKind
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutedAt      *time.Time
}

// ScheduledJob is a time-triggered unit of work for one authorization.
//
// Invariants:
//   - Type always matches Payload.Type()
//   - Status only changes through the transition methods below
//   - executedAt is stamped when the job leaves Running or is cancelled
type ScheduledJob struct {
	id              kernel.UUID
	jobType         Type
	status          Status
	authorizationID kernel.UUID
	bookingID       *kernel.UUID
	payload         Payload
	scheduledAt     time.Time
	priority        int
	attempts        int
	maxAttempts     int
	result          *Result
	errorKind       ErrorKind
	errorMessage    string
	createdAt       time.Time
	updatedAt       time.Time
	executedAt      *time.Time
	guard           guard.ConstructorGuard
}

// NewScheduledJob creates a Pending job for the authorization. The job type and
// priority follow from the payload.
//
// Example:
//
//	j, err := job.NewScheduledJob(auth.ID(), &bookingID, job.CaptureData{}, *auth.AutoCaptureAt(), clock.Now())
//	if err != nil {
//	    return nil, err
//	}
//	created, _, err := repo.Create(ctx, j)
func NewScheduledJob(
	authorizationID kernel.UUID,
	bookingID *kernel.UUID,
	payload Payload,
	scheduledAt time.Time,
	now time.Time,
) (*ScheduledJob, error) {
	if payload == nil {
		return nil, errs.NewValueIsRequiredError("job payload")
	}

	return RestoreScheduledJob(Snapshot{
		ID:              kernel.NewUUID(),
		Type:            payload.Type(),
		Status:          Pending,
		AuthorizationID: authorizationID,
		BookingID:       bookingID,
		Payload:         payload,
		ScheduledAt:     scheduledAt,
		Priority:        payload.Type().Priority(),
		MaxAttempts:     DefaultMaxAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// RestoreScheduledJob rebuilds a job from persisted state.
func RestoreScheduledJob(s Snapshot) (*ScheduledJob, error) {
	var payloadErr error
	switch {
	case s.Payload == nil:
		payloadErr = errs.NewValueIsRequiredError("job payload")
	case s.Payload.Type() != s.Type:
		payloadErr = errs.NewValueIsInvalidErrorWithCause("job payload",
			fmt.Errorf("%s payload on %s job", s.Payload.Type(), s.Type))
	}

	var attemptsErr error
	if s.Attempts < 0 || s.MaxAttempts <= 0 {
		attemptsErr = errs.NewValueIsOutOfRangeError("attempts", s.Attempts, 0, s.MaxAttempts)
	}

	if err := errors.Join(
		s.ID.Validate(),
		s.AuthorizationID.Validate(),
		s.Type.Validate(),
		s.Status.Validate(),
		payloadErr,
		attemptsErr,
	); err != nil {
		return nil, err
	}

	var bookingID *kernel.UUID
	if s.BookingID != nil {
		id := *s.BookingID
		bookingID = &id
	}

	return &ScheduledJob{
		id:              s.ID,
		jobType:         s.Type,
		status:          s.Status,
		authorizationID: s.AuthorizationID,
		bookingID:       bookingID,
		payload:         s.Payload,
		scheduledAt:     s.ScheduledAt,
		priority:        s.Priority,
		attempts:        s.Attempts,
		maxAttempts:     s.MaxAttempts,
		result:          copyResult(s.Result),
		errorKind:       s.ErrorKind,
		errorMessage:    s.ErrorMessage,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
		executedAt:      copyTime(s.ExecutedAt),
		guard:           guard.NewConstructorGuard(),
	}, nil
}

// Validate ensures the job was built through a constructor.
func (j *ScheduledJob) Validate() error {
	if j == nil {
		return ErrScheduledJobIsNotConstructed
	}
	return j.guard.Validate(ErrScheduledJobIsNotConstructed)
}

// Snapshot returns a copy of the job state for persistence.
func (j *ScheduledJob) Snapshot() Snapshot {
	var bookingID *kernel.UUID
	if j.bookingID != nil {
		id := *j.bookingID
		bookingID = &id
	}
	return Snapshot{
		ID:              j.id,
		Type:            j.jobType,
		Status:          j.status,
		AuthorizationID: j.authorizationID,
		BookingID:       bookingID,
		Payload:         j.payload,
		ScheduledAt:     j.scheduledAt,
		Priority:        j.priority,
		Attempts:        j.attempts,
		MaxAttempts:     j.maxAttempts,
		Result:          copyResult(j.result),
		ErrorKind:       j.errorKind,
		ErrorMessage:    j.errorMessage,
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
		ExecutedAt:      copyTime(j.executedAt),
	}
}

func (j *ScheduledJob) ID() kernel.UUID              { return j.id }
func (j *ScheduledJob) Type() Type                   { return j.jobType }
func (j *ScheduledJob) Status() Status               { return j.status }
func (j *ScheduledJob) AuthorizationID() kernel.UUID { return j.authorizationID }
func (j *ScheduledJob) Payload() Payload             { return j.payload }
func (j *ScheduledJob) Subtype() string              { return j.payload.Subtype() }
func (j *ScheduledJob) ScheduledAt() time.Time       { return j.scheduledAt }
func (j *ScheduledJob) Priority() int                { return j.priority }
func (j *ScheduledJob) Attempts() int                { return j.attempts }
func (j *ScheduledJob) MaxAttempts() int             { return j.maxAttempts }
func (j *ScheduledJob) ErrorKind() ErrorKind         { return j.errorKind }
func (j *ScheduledJob) ErrorMessage() string         { return j.errorMessage }
func (j *ScheduledJob) CreatedAt() time.Time         { return j.createdAt }
func (j *ScheduledJob) UpdatedAt() time.Time         { return j.updatedAt }
func (j *ScheduledJob) ExecutedAt() *time.Time       { return copyTime(j.executedAt) }

// BookingID returns nil when the job was created without a booking.
func (j *ScheduledJob) BookingID() *kernel.UUID {
	if j.bookingID == nil {
		return nil
	}
	id := *j.bookingID
	return &id
}

// Result returns a copy of the stored outcome, nil before the first outcome.
func (j *ScheduledJob) Result() *Result { return copyResult(j.result) }

// IsSkipped reports a skip-complete.
func (j *ScheduledJob) IsSkipped() bool {
	return j.status == Completed && j.result != nil && j.result.Skipped
}

// SetMaxAttempts overrides the attempt cap of a job that has not run yet.
func (j *ScheduledJob) SetMaxAttempts(maxAttempts int) error {
	if maxAttempts <= 0 {
		return errs.NewValueIsOutOfRangeError("max attempts", maxAttempts, 1, "unbounded")
	}
	j.maxAttempts = maxAttempts
	return nil
}

// CanRetry reports whether a Failed job still has attempts left.
func (j *ScheduledJob) CanRetry() bool {
	return j.status == Failed && j.attempts < j.maxAttempts
}

// IsOverdue reports a Pending job whose scheduled time is more than grace in the past.
func (j *ScheduledJob) IsOverdue(now time.Time, grace time.Duration) bool {
	return j.status == Pending && j.scheduledAt.Before(now.Add(-grace))
}

// IsStuck reports a Running job whose last update is older than timeout.
func (j *ScheduledJob) IsStuck(now time.Time, timeout time.Duration) bool {
	return j.status == Running && j.updatedAt.Before(now.Add(-timeout))
}

// Start claims the job: Pending -> Running and one more attempt.
func (j *ScheduledJob) Start(now time.Time) error {
	next, err := j.status.Start()
	if err != nil {
		return err
	}
	j.status = next
	j.attempts++
	j.updatedAt = now
	return nil
}

// Complete finishes a Running job with its outcome.
func (j *ScheduledJob) Complete(now time.Time, result Result) error {
	next, err := j.status.Complete()
	if err != nil {
		return err
	}
	j.status = next
	j.result = &result
	j.errorKind = KindNone
	j.errorMessage = ""
	j.executedAt = &now
	j.updatedAt = now
	return nil
}

// Skip completes a Running job as a benign no-op.
func (j *ScheduledJob) Skip(now time.Time, reason string) error {
	return j.Complete(now, SkippedResult(reason))
}

// RecordProgress stores a partial outcome on a Running job, kept across a failure.
func (j *ScheduledJob) RecordProgress(result Result) error {
	if j.status != Running {
		return invalidTransition(j.status, "record progress")
	}
	j.result = &result
	return nil
}

// Fail finishes a Running job with a failure.
func (j *ScheduledJob) Fail(now time.Time, failure Failure) error {
	next, err := j.status.Fail()
	if err != nil {
		return err
	}
	j.status = next
	j.errorKind = failure.Kind
	j.errorMessage = failure.Message
	j.executedAt = &now
	j.updatedAt = now
	return nil
}

// Cancel withdraws a Pending job.
func (j *ScheduledJob) Cancel(now time.Time, reason string) error {
	next, err := j.status.Cancel()
	if err != nil {
		return err
	}
	j.status = next
	j.errorKind = KindNone
	j.errorMessage = reason
	j.executedAt = &now
	j.updatedAt = now
	return nil
}

// Retry returns a Failed job to Pending, to run at runAt. Stored results are
// kept so partially delivered reminders are not repeated.
func (j *ScheduledJob) Retry(now, runAt time.Time) error {
	if !j.CanRetry() {
		return fmt.Errorf("%w: status %s, attempts %d of %d", ErrCannotRetry, j.status, j.attempts, j.maxAttempts)
	}
	next, err := j.status.Retry()
	if err != nil {
		return err
	}
	j.status = next
	j.scheduledAt = runAt
	j.executedAt = nil
	j.updatedAt = now
	return nil
}

// Reschedule moves a Pending job to a new run time.
func (j *ScheduledJob) Reschedule(now, runAt time.Time) error {
	if j.status != Pending {
		return invalidTransition(j.status, "reschedule")
	}
	j.scheduledAt = runAt
	j.updatedAt = now
	return nil
}

// QueueTime is how long after its scheduled time the job finished, nil while unfinished.
func (j *ScheduledJob) QueueTime() *time.Duration {
	if j.executedAt == nil {
		return nil
	}
	d := j.executedAt.Sub(j.scheduledAt)
	return &d
}

func copyResult(r *Result) *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Delivered = append([]Recipient(nil), r.Delivered...)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
