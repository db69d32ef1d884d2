package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delivery() Delivery {
	return Delivery{
		EventID:    "evt-1",
		EventType:  "user.created",
		Subject:    "api.sync.worker",
		Stream:     "worker-sync",
		StreamSeq:  42,
		Deliveries: 1,
		Body:       []byte(`{"event_id":"evt-1"}`),
		Headers:    map[string]string{"Nats-Msg-Id": "evt-1"},
	}
}

func TestMemRepository_FindOrBuildFresh(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	rec, err := repo.FindOrBuild(ctx, delivery())
	require.NoError(t, err)
	assert.Equal(t, "evt-1", rec.EventID)
	assert.Equal(t, StatusReceived, rec.Status)
	assert.False(t, rec.Persisted())
	repo.Release(ctx, rec)
}

func TestMemRepository_ProcessLifecycle(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()
	d := delivery()

	rec, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	require.NoError(t, repo.PersistPre(ctx, rec, d))
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, 1, rec.ProcessingAttempts)
	require.NotNil(t, rec.ReceivedAt)

	require.NoError(t, repo.PersistPost(ctx, rec))
	assert.Equal(t, StatusProcessed, rec.Status)
	require.NotNil(t, rec.ProcessedAt)

	again, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	assert.True(t, repo.AlreadyProcessed(again))
	repo.Release(ctx, again)
}

func TestMemRepository_FailureClearsOnRetry(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()
	d := delivery()

	rec, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	require.NoError(t, repo.PersistPre(ctx, rec, d))
	repo.PersistFailure(ctx, rec, errors.New("handler blew up"))

	stored, ok := repo.Get(d)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "handler blew up")
	require.NotNil(t, stored.FailedAt)

	// Redelivery clears the error and bumps attempts.
	d.Deliveries = 2
	retry, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	assert.False(t, repo.AlreadyProcessed(retry))
	require.NoError(t, repo.PersistPre(ctx, retry, d))
	assert.Empty(t, retry.ErrorMessage)
	assert.Equal(t, 2, retry.ProcessingAttempts)
	assert.Equal(t, 2, retry.Deliveries)
	require.NoError(t, repo.PersistPost(ctx, retry))
}

func TestMemRepository_SequenceFallbackKey(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	d := delivery()
	d.EventID = ""

	rec, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	require.NoError(t, repo.PersistPre(ctx, rec, d))
	require.NoError(t, repo.PersistPost(ctx, rec))

	// Same stream sequence dedupes; a different sequence is a new event.
	same, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)
	assert.True(t, repo.AlreadyProcessed(same))
	repo.Release(ctx, same)

	other := d
	other.StreamSeq = 43
	fresh, err := repo.FindOrBuild(ctx, other)
	require.NoError(t, err)
	assert.False(t, repo.AlreadyProcessed(fresh))
	repo.Release(ctx, fresh)
}

func TestMemRepository_LockSerializesRedeliveries(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()
	d := delivery()

	rec, err := repo.FindOrBuild(ctx, d)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		other, err := repo.FindOrBuild(ctx, d)
		assert.NoError(t, err)
		close(acquired)
		repo.Release(ctx, other)
	}()

	select {
	case <-acquired:
		t.Fatal("second FindOrBuild acquired the lock while held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, repo.PersistPre(ctx, rec, d))
	require.NoError(t, repo.PersistPost(ctx, rec))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second FindOrBuild never acquired the lock")
	}
}

func TestMemRepository_NilSafety(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	repo.PersistFailure(ctx, nil, errors.New("boom"))
	repo.Release(ctx, nil)
	assert.False(t, repo.AlreadyProcessed(nil))
}
