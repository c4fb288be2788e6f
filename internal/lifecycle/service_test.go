package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sewaghar/internal/models"
	"github.com/example/sewaghar/internal/storage"
)

type fakeEscrow struct {
	mu       sync.Mutex
	holds    int
	captures int
	cancels  int
}

func (f *fakeEscrow) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
	return "pi_test", nil
}

func (f *fakeEscrow) Capture(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return nil
}

func (f *fakeEscrow) Cancel(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []models.ServiceRequest
}

func (c *captureNotifier) RequestChanged(req models.ServiceRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, req)
}

func newTestService() (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	svc := NewService(store, nil)
	return svc, store
}

func validInput() SubmitInput {
	return SubmitInput{
		Title:         "Leaking kitchen tap",
		Description:   "Tap drips constantly, needs a new washer",
		Category:      "Plumbing",
		Location:      "Baneshwor, Kathmandu",
		Wage:          500,
		ContactNumber: "9800000000",
	}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	svc, _ := newTestService()
	req, err := svc.Submit(context.Background(), "cust-1", validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.ProviderID)
	assert.False(t, req.UpdatedAt.Before(req.CreatedAt))
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := map[string]func(*SubmitInput){
		"zero wage":      func(in *SubmitInput) { in.Wage = 0 },
		"negative wage":  func(in *SubmitInput) { in.Wage = -10 },
		"empty title":    func(in *SubmitInput) { in.Title = "" },
		"empty location": func(in *SubmitInput) { in.Location = "" },
		"empty contact":  func(in *SubmitInput) { in.ContactNumber = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.Submit(ctx, "cust-1", in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestTransitionsRejectEmptyIDs(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)

	// An empty provider id must never satisfy the assignment invariant, even
	// vacuously as a pointer to "".
	_, err = svc.Accept(ctx, req.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Accept(ctx, "", "prov-1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.ReleaseAccepted(ctx, req.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Complete(ctx, req.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Complete(ctx, "", "cust-1")
	assert.ErrorIs(t, err, ErrValidation)

	final, err := svc.Store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, final.Status)
	assert.Nil(t, final.ProviderID)
}

func TestLifecycleRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	esc := &fakeEscrow{}
	svc.Escrow = esc
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.ProviderID)
	assert.Equal(t, "prov-1", *accepted.ProviderID)
	assert.Equal(t, 1, esc.holds)

	completed, err := svc.Complete(ctx, req.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.Equal(t, 1, esc.captures)

	// Completed is terminal.
	_, err = svc.Accept(ctx, req.ID, "prov-2")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.ReleaseAccepted(ctx, req.ID, "prov-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Complete(ctx, req.ID, "cust-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, provider := range []string{"prov-a", "prov-b"} {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, req.ID, provider)
		}(i, provider)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, winners, "exactly one accept must succeed")

	final, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ProviderID)
	assert.Contains(t, []string{"prov-a", "prov-b"}, *final.ProviderID)
	assert.Equal(t, models.StatusAccepted, final.Status)
}

func TestDeclineAvailableIsIdempotent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeclineAvailable(ctx, req.ID, "prov-1"))
	require.NoError(t, svc.DeclineAvailable(ctx, req.ID, "prov-1"))

	set, err := store.NotInterested(ctx, "prov-1")
	require.NoError(t, err)
	assert.Len(t, set, 1)

	// Declined requests disappear from the provider's available view but
	// stay pending for everyone else.
	avail, err := svc.Available(ctx, "prov-1")
	require.NoError(t, err)
	assert.Empty(t, avail)
	other, err := svc.Available(ctx, "prov-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestReleaseAccepted(t *testing.T) {
	svc, store := newTestService()
	esc := &fakeEscrow{}
	svc.Escrow = esc
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)
	_, err = svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)

	// Only the assigned provider may release.
	_, err = svc.ReleaseAccepted(ctx, req.ID, "prov-2")
	assert.ErrorIs(t, err, ErrPermission)

	released, err := svc.ReleaseAccepted(ctx, req.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, released.Status)
	assert.Nil(t, released.ProviderID)
	assert.Equal(t, 1, esc.cancels)

	// The release also records a decline, so the request stays out of the
	// releasing provider's view.
	set, err := store.NotInterested(ctx, "prov-1")
	require.NoError(t, err)
	assert.True(t, set[req.ID])

	// A second provider can still claim it.
	again, err := svc.Accept(ctx, req.ID, "prov-2")
	require.NoError(t, err)
	assert.Equal(t, "prov-2", *again.ProviderID)
}

func TestCompletePermissions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)

	// Pending requests cannot be completed.
	_, err = svc.Complete(ctx, req.ID, "cust-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, req.ID, "someone-else")
	assert.ErrorIs(t, err, ErrPermission)

	_, err = svc.Complete(ctx, "no-such-id", "cust-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	completeOne := func(customer string) string {
		req, err := svc.Submit(ctx, customer, validInput())
		require.NoError(t, err)
		_, err = svc.Accept(ctx, req.ID, "prov-1")
		require.NoError(t, err)
		_, err = svc.Complete(ctx, req.ID, customer)
		require.NoError(t, err)
		return req.ID
	}

	first := completeOne("cust-1")

	_, err := svc.Rate(ctx, first, "cust-1", 0, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Rate(ctx, first, "cust-1", 6, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Rate(ctx, first, "stranger", 5, "")
	assert.ErrorIs(t, err, ErrPermission)

	summary, err := svc.Rate(ctx, first, "cust-1", 4, "quick and tidy")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", summary.UserID)
	assert.InDelta(t, 4.0, summary.Mean, 1e-9)

	// A request can be rated once.
	_, err = svc.Rate(ctx, first, "cust-1", 5, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	// A second completed request moves the running mean.
	second := completeOne("cust-2")
	summary, err = svc.Rate(ctx, second, "cust-2", 2, "late")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, summary.Mean, 1e-9)

	ratings, agg, err := svc.Ratings(ctx, "prov-1")
	require.NoError(t, err)
	assert.Len(t, ratings, 2)
	assert.Equal(t, int64(2), agg.Count)
}

func TestRateRequiresCompletion(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)
	_, err = svc.Rate(ctx, req.ID, "cust-1", 5, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)
	_, err = svc.Rate(ctx, req.ID, "cust-1", 5, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAvailableFiltersBlocked(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)
	b, err := svc.Submit(ctx, "cust-2", validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Block(ctx, a.ID, "prov-1"))

	avail, err := svc.Available(ctx, "prov-1")
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, b.ID, avail[0].ID)
}

func TestNotifierReceivesTransitions(t *testing.T) {
	svc, _ := newTestService()
	n := &captureNotifier{}
	svc.Notify = n
	ctx := context.Background()

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)
	_, err = svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, req.ID, "cust-1")
	require.NoError(t, err)

	require.Len(t, n.events, 3)
	assert.Equal(t, models.StatusPending, n.events[0].Status)
	assert.Equal(t, models.StatusAccepted, n.events[1].Status)
	assert.Equal(t, models.StatusCompleted, n.events[2].Status)
}

func TestUpdatedAtMonotonic(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	req, err := svc.Submit(ctx, "cust-1", validInput())
	require.NoError(t, err)
	accepted, err := svc.Accept(ctx, req.ID, "prov-1")
	require.NoError(t, err)
	assert.True(t, accepted.UpdatedAt.After(req.CreatedAt))
	completed, err := svc.Complete(ctx, req.ID, "cust-1")
	require.NoError(t, err)
	assert.True(t, completed.UpdatedAt.After(accepted.UpdatedAt))
}
