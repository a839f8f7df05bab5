package usage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/enums"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	mu     sync.Mutex
	events []models.UsageEvent
	ctxErr error
	err    error
	block  chan struct{}
}

func (s *stubSink) InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *event)
	return nil
}

type countingFailures struct{ n int }

func (c *countingFailures) IncUsageFailure() { c.n++ }

func TestRecordPersistsEventWithDefaults(t *testing.T) {
	sink := &stubSink{}
	rec := NewRecorder(sink, nil, time.Second, nil)
	licenseID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.Record(context.Background(), Event{
		LicenseID: &licenseID,
		HWID:      "HW-1",
		Action:    enums.UsageActionValidate,
		ClientIP:  "10.0.0.1",
		At:        at,
	})
	rec.Wait()

	require.Len(t, sink.events, 1)
	got := sink.events[0]
	assert.Equal(t, &licenseID, got.LicenseID)
	assert.Equal(t, enums.UsageActionValidate, got.Action)
	assert.Equal(t, "unknown", got.UserAgent)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.Equal(t, at, got.CreatedAt)
}

func TestRecordIsDetachedFromRequestCancellation(t *testing.T) {
	sink := &stubSink{block: make(chan struct{})}
	rec := NewRecorder(sink, nil, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, Event{HWID: "HW-1", Action: enums.UsageActionInvalidKey})
	cancel()
	close(sink.block)
	rec.Wait()

	require.Len(t, sink.events, 1)
	assert.NoError(t, sink.ctxErr, "client abandonment must not cancel the usage write")
	assert.Nil(t, sink.events[0].LicenseID)
}

func TestRecordFailureIsLoggedAndCounted(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	failures := &countingFailures{}
	rec := NewRecorder(&stubSink{err: errors.New("disk full")}, logg, time.Second, failures)

	rec.Record(context.Background(), Event{HWID: "HW-1", Action: enums.UsageActionLoadModule})
	rec.Wait()

	assert.Equal(t, 1, failures.n)
	assert.Contains(t, buf.String(), "usage.write_failed")
	assert.Contains(t, buf.String(), "LOAD_MODULE")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), Event{})
	rec.Wait()

	NewRecorder(nil, nil, 0, nil).Record(context.Background(), Event{})
}
