package lazy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/indexing"
	"github.com/poiesic/clearance/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	mu    sync.Mutex
	calls []core.ID
	fn    func(ctx context.Context, id core.ID) error
}

func (f *fakeIndexer) ClaimAndIndex(ctx context.Context, id core.ID, _ storage.ClaimPolicy) (indexing.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if f.fn != nil {
		if err := f.fn(ctx, id); err != nil {
			return indexing.Result{DocumentID: id}, err
		}
	}
	return indexing.Result{DocumentID: id, Passages: 1}, nil
}

func (f *fakeIndexer) called() []core.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ID(nil), f.calls...)
}

func newTrigger(t *testing.T, ix Indexer, opts ...Option) *Trigger {
	t.Helper()
	trigger, err := New(ix, opts...)
	require.NoError(t, err)
	t.Cleanup(trigger.Release)
	return trigger
}

func doc(id core.ID, title string) *core.Document {
	return &core.Document{Id: id, Title: title, EmbeddingState: core.EmbeddingNotEmbedded}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrIndexerRequired)

	_, err = New(&fakeIndexer{}, WithCandidates(0))
	assert.ErrorIs(t, err, ErrInvalidCandidates)

	_, err = New(&fakeIndexer{}, WithTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestRunEmbedsAtMostK(t *testing.T) {
	ix := &fakeIndexer{}
	trigger := newTrigger(t, ix, WithCandidates(3))

	eligible := []*core.Document{
		doc(1, "Parking rules"),
		doc(2, "Annual leave"),
		doc(3, "Leave leave leave policy for annual leave"),
		doc(4, "Sick leave"),
		doc(5, "Parental leave"),
		doc(6, "Travel expenses"),
	}
	report, err := trigger.Run(context.Background(), "leave policy", eligible)
	require.NoError(t, err)

	assert.Len(t, report.Selected, 3)
	assert.Equal(t, core.ID(3), report.Selected[0], "highest lexical score first")
	assert.ElementsMatch(t, report.Selected, ix.called())
	assert.ElementsMatch(t, report.Selected, report.Embedded)
	assert.False(t, report.Degraded())
}

func TestRunSkipsEmbeddedAndUnmatched(t *testing.T) {
	ix := &fakeIndexer{}
	trigger := newTrigger(t, ix)

	embedded := doc(1, "Leave policy")
	embedded.EmbeddingState = core.EmbeddingDone
	running := doc(2, "Leave policy")
	running.EmbeddingState = core.EmbeddingInProgress
	running.EmbeddingStartedAt = time.Now().UTC()

	report, err := trigger.Run(context.Background(), "leave", []*core.Document{embedded, running, doc(3, "Parking")})
	require.NoError(t, err)
	assert.Empty(t, report.Selected)
	assert.Empty(t, ix.called())
}

func TestRunEmptyCandidateSetIsNoop(t *testing.T) {
	ix := &fakeIndexer{}
	trigger := newTrigger(t, ix)

	report, err := trigger.Run(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.False(t, report.Degraded())
}

func TestFailedDocumentsRetryAfterCooldown(t *testing.T) {
	trigger := newTrigger(t, &fakeIndexer{}, WithRetryFailedAfter(time.Hour))

	recent := doc(1, "Leave")
	recent.EmbeddingState = core.EmbeddingFailed
	recent.EmbeddingEndedAt = time.Now().UTC().Add(-time.Minute)
	old := doc(2, "Leave")
	old.EmbeddingState = core.EmbeddingFailed
	old.EmbeddingEndedAt = time.Now().UTC().Add(-2 * time.Hour)

	hits := trigger.Candidates("leave", []*core.Document{recent, old})
	require.Len(t, hits, 1)
	assert.Equal(t, core.ID(2), hits[0].Document.Id)
}

func TestRunPartialFailure(t *testing.T) {
	ix := &fakeIndexer{fn: func(_ context.Context, id core.ID) error {
		switch id {
		case 2:
			return errors.New("backend unavailable")
		case 3:
			return indexing.ErrNotClaimed
		}
		return nil
	}}
	trigger := newTrigger(t, ix)

	eligible := []*core.Document{doc(1, "Leave"), doc(2, "Leave"), doc(3, "Leave")}
	report, err := trigger.Run(context.Background(), "leave", eligible)
	require.NoError(t, err)

	assert.Equal(t, []core.ID{1}, report.Embedded)
	assert.Equal(t, []core.ID{2}, report.Failed)
	assert.Equal(t, []core.ID{3}, report.NotClaimed)
	assert.True(t, report.Degraded())
}

func TestRunTimesOutHungCandidates(t *testing.T) {
	ix := &fakeIndexer{fn: func(ctx context.Context, id core.ID) error {
		if id == 1 {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	trigger := newTrigger(t, ix, WithTimeout(50*time.Millisecond))

	eligible := []*core.Document{doc(1, "Leave"), doc(2, "Leave"), doc(3, "Leave")}
	start := time.Now()
	report, err := trigger.Run(context.Background(), "leave", eligible)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []core.ID{1}, report.Embedded)
	assert.ElementsMatch(t, []core.ID{2, 3}, report.TimedOut)
	assert.True(t, report.Degraded())
}

func TestCancelledCallerDoesNotWaitAndJobsFinish(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 1)
	ix := &fakeIndexer{fn: func(ctx context.Context, _ core.ID) error {
		<-release
		finished <- ctx.Err()
		return nil
	}}
	trigger := newTrigger(t, ix)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	report, err := trigger.Run(ctx, "leave", []*core.Document{doc(1, "Leave")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []core.ID{1}, report.TimedOut)

	close(release)
	select {
	case jobErr := <-finished:
		assert.NoError(t, jobErr, "job context is detached from the caller")
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
}

func TestRunSkipsCandidatesWhenPoolIsBusy(t *testing.T) {
	release := make(chan struct{})
	ix := &fakeIndexer{fn: func(ctx context.Context, _ core.ID) error {
		<-release
		return nil
	}}
	trigger := newTrigger(t, ix, WithPoolSize(1), WithTimeout(100*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	report, err := trigger.Run(context.Background(), "leave", []*core.Document{doc(1, "Leave"), doc(2, "Leave")})
	require.NoError(t, err)
	assert.Len(t, report.Embedded, 1)
	assert.Len(t, report.Failed, 1)
	assert.Len(t, ix.called(), 1, "the overflow candidate never reached the indexer")
}
