// Package usage writes the audit trail of authorization attempts. Writes are
// best effort and never affect the outcome returned to the caller.
package usage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/enums"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultTimeout   = 3 * time.Second
	unknownUserAgent = "unknown"
)

type sink interface {
	InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error
}

type failureCounter interface {
	IncUsageFailure()
}

// Event is one usage record. A nil LicenseID marks an attempt with an
// unknown key.
type Event struct {
	LicenseID *uuid.UUID
	HWID      string
	Action    enums.UsageAction
	Details   map[string]any
	ClientIP  string
	UserAgent string
	At        time.Time
}

// Recorder persists events in the background, each bounded by its own
// timeout and detached from the request context.
type Recorder struct {
	sink     sink
	logg     *logger.Logger
	timeout  time.Duration
	failures failureCounter
	wg       sync.WaitGroup
}

func NewRecorder(s sink, logg *logger.Logger, timeout time.Duration, failures failureCounter) *Recorder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Recorder{sink: s, logg: logg, timeout: timeout, failures: failures}
}

// Record schedules ev for persistence and returns immediately.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	row := toModel(ev)
	detached := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		writeCtx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.sink.InsertUsageEvent(writeCtx, row); err != nil {
			if r.failures != nil {
				r.failures.IncUsageFailure()
			}
			if r.logg != nil {
				logCtx := r.logg.WithFields(detached, map[string]any{
					"usage_action": string(row.Action),
					"hwid":         row.HWID,
				})
				r.logg.Error(logCtx, "usage.write_failed", err)
			}
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func toModel(ev Event) *models.UsageEvent {
	ua := strings.TrimSpace(ev.UserAgent)
	if ua == "" {
		ua = unknownUserAgent
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &models.UsageEvent{
		LicenseID: ev.LicenseID,
		HWID:      ev.HWID,
		Action:    ev.Action,
		Details:   ev.Details,
		IPAddress: ev.ClientIP,
		UserAgent: ua,
		CreatedAt: at,
	}
}
