package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/agent-dashboard/clock"
	"github.com/karthikraju391/agent-dashboard/models"
	"github.com/karthikraju391/agent-dashboard/store"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// recorder notes the store length at each notification so tests can check
// that messages are stored before they are announced.
type recorder struct {
	mu       sync.Mutex
	st       *store.Store
	notified []models.Message
	lenAtRun []int
}

func (r *recorder) Notify(m models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, m)
	r.lenAtRun = append(r.lenAtRun, r.st.Len())
}

func setup(t *testing.T) (*Service, *store.Store, *recorder, *clock.FakeClock) {
	t.Helper()
	st := store.New(store.Options{})
	rec := &recorder{st: st}
	clk := clock.Fake(now)
	return New(st, rec, clk, zerolog.Nop()), st, rec, clk
}

func TestSubmitJSON_StoresThenNotifies(t *testing.T) {
	svc, st, rec, _ := setup(t)

	body := `{"title":"Supply chain scan","value":"97%","presentation_method":"badge","domain":"supply_chain","status":"compliant","source_agent":"Compliance Agent"}`
	r, err := svc.SubmitJSON(context.Background(), models.CategoryCompliance, []byte(body))
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, now, r.Timestamp)

	got := st.Recent(1)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)
	assert.Equal(t, now, got[0].Timestamp, "timestamp defaults to ingestion time")
	assert.Equal(t, "supply_chain", got[0].Compliance.Domain)

	require.Len(t, rec.notified, 1)
	assert.Equal(t, r.ID, rec.notified[0].ID)
	assert.Equal(t, []int{1}, rec.lenAtRun)
}

func TestSubmitJSON_RejectsWithoutMutation(t *testing.T) {
	svc, st, rec, _ := setup(t)

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"missing title", `{"value":1,"presentation_method":"metric","severity":"high"}`, models.ErrValidation},
		{"bad severity", `{"title":"t","value":1,"presentation_method":"metric","severity":"urgent"}`, models.ErrValidation},
		{"not json", `{"title":`, models.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitJSON(context.Background(), models.CategoryAlert, []byte(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 0, st.Len())
	assert.Empty(t, rec.notified)
}

func TestSubmit_CancelledContext(t *testing.T) {
	svc, st, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SubmitStatus(ctx, models.Message{Title: "db", Value: models.Text("up"), Presentation: models.HintBadge})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, st.Len())
}

func TestCategoryHelpers(t *testing.T) {
	svc, st, _, _ := setup(t)
	ctx := context.Background()
	base := models.Message{Title: "t", Value: models.Int(1), Presentation: models.HintMetric}

	alert := base
	alert.Alert = &models.AlertFields{Severity: models.SeverityCritical}

	submits := []struct {
		category models.Category
		submit   func() (Receipt, error)
	}{
		{models.CategoryCompliance, func() (Receipt, error) { return svc.SubmitCompliance(ctx, base) }},
		{models.CategoryStatus, func() (Receipt, error) { return svc.SubmitStatus(ctx, base) }},
		{models.CategoryThroughput, func() (Receipt, error) { return svc.SubmitThroughput(ctx, base) }},
		{models.CategoryAlert, func() (Receipt, error) { return svc.SubmitAlert(ctx, alert) }},
		{models.CategoryInformational, func() (Receipt, error) { return svc.SubmitInformational(ctx, base) }},
	}
	for _, s := range submits {
		r, err := s.submit()
		require.NoError(t, err, s.category)
		got := st.ByCategory(s.category, 1)
		require.Len(t, got, 1, s.category)
		assert.Equal(t, r.ID, got[0].ID)
	}

	info := st.ByCategory(models.CategoryInformational, 1)[0]
	assert.Equal(t, models.DefaultPriority, info.Informational.Priority)
}

func TestSubmitAlert_RequiresSeverity(t *testing.T) {
	svc, st, _, _ := setup(t)
	_, err := svc.SubmitAlert(context.Background(), models.Message{Title: "t", Value: models.Int(1), Presentation: models.HintBadge})

	require.ErrorIs(t, err, models.ErrValidation)
	require.Len(t, models.FieldErrors(err), 1)
	assert.Equal(t, "severity", models.FieldErrors(err)[0].Field)
	assert.Equal(t, 0, st.Len())
}

func TestSubmit_IgnoresCallerID(t *testing.T) {
	svc, _, _, _ := setup(t)
	r, err := svc.SubmitStatus(context.Background(), models.Message{ID: "mine", Title: "t", Value: models.Text("ok"), Presentation: models.HintText})
	require.NoError(t, err)
	assert.NotEqual(t, "mine", r.ID)
}

func TestRunPruner(t *testing.T) {
	st := store.New(store.Options{})
	clk := clock.Fake(now)
	exp := now.Add(30 * time.Second)
	st.Append(models.Message{
		Category: models.CategoryAlert, Title: "a", Value: models.Text("x"), Presentation: models.HintBadge, Timestamp: now,
		Alert: &models.AlertFields{Severity: models.SeverityLow, ExpiresAt: &exp},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPruner(ctx, st, clk, time.Minute, zerolog.Nop())
		close(done)
	}()
	clk.WaitForTickers(1)
	clk.Advance(time.Minute)

	// Counting at the original time only drops to zero once the
	// background pass has evicted the alert.
	require.Eventually(t, func() bool {
		return st.Counts(now).ActiveAlerts == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunPruner_DisabledReturns(t *testing.T) {
	st := store.New(store.Options{})
	RunPruner(context.Background(), st, clock.Fake(now), 0, zerolog.Nop())
}
