package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/store"
)

func TestQueueCreateDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := New()

	q, err := labqueue.New("q1", "experiments", "secret", document.Null(), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Queues().Create(ctx, q))

	dup, err := labqueue.New("q2", "experiments", "secret", document.Null(), time.Now())
	require.NoError(t, err)
	err = s.Queues().Create(ctx, dup)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestTaskCompareAndUpdateConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now()
	tsk := labtask.New("t1", "q1", document.Null(), document.Null(), now)
	require.NoError(t, s.Tasks().Insert(ctx, tsk))

	got, err := s.Tasks().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Etag)

	got.Status = labtask.StatusRunning
	require.NoError(t, s.Tasks().CompareAndUpdate(ctx, got, 1))
	assert.Equal(t, uint64(2), got.Etag)

	stale := tsk.Clone()
	stale.Status = labtask.StatusCancelled
	err = s.Tasks().CompareAndUpdate(ctx, stale, 1)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestListPendingCandidatesOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now()
	a := labtask.New("a", "q1", document.Null(), document.Null(), base)
	a.Priority = 5
	b := labtask.New("b", "q1", document.Null(), document.Null(), base.Add(time.Second))
	b.Priority = 10
	c := labtask.New("c", "q1", document.Null(), document.Null(), base.Add(2*time.Second))
	c.Priority = 10

	for _, tk := range []*labtask.Task{a, b, c} {
		require.NoError(t, s.Tasks().Insert(ctx, tk))
	}

	candidates, err := s.Tasks().ListPendingCandidates(ctx, "q1", 32)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "b", candidates[0].ID)
	assert.Equal(t, "c", candidates[1].ID)
	assert.Equal(t, "a", candidates[2].ID)
}

func TestDeleteQueueCascade(t *testing.T) {
	ctx := context.Background()
	s := New()

	q, err := labqueue.New("q1", "experiments", "secret", document.Null(), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Queues().Create(ctx, q))

	tsk := labtask.New("t1", "q1", document.Null(), document.Null(), time.Now())
	require.NoError(t, s.Tasks().Insert(ctx, tsk))

	require.NoError(t, s.DeleteQueueCascade(ctx, "q1"))

	_, err = s.Queues().GetByID(ctx, "q1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Tasks().Get(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListCursorPagination(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now()
	for i, id := range []string{"t1", "t2", "t3"} {
		tsk := labtask.New(id, "q1", document.Null(), document.Null(), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Tasks().Insert(ctx, tsk))
	}

	page1, err := s.Tasks().List(ctx, "q1", nil, "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, "t1", page1.Items[0].ID)
	assert.Equal(t, "t2", page1.Items[1].ID)
	require.NotEmpty(t, page1.Next)

	page2, err := s.Tasks().List(ctx, "q1", nil, page1.Next, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "t3", page2.Items[0].ID)
	assert.Empty(t, page2.Next)
}
