package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/coursesaga"
)

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(coursesaga.Course{ID: 1, Title: "Go", Available: true})

	course, err := c.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Go", course.Title)

	_, err = c.Lookup(ctx, 2)
	assert.ErrorIs(t, err, coursesaga.ErrCourseNotFound)

	boom := errors.New("catalog down")
	c.FailWith(boom)
	_, err = c.Lookup(ctx, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, c.Count("lookup"))
}

func TestPayments(t *testing.T) {
	ctx := context.Background()
	p := NewPayments()

	id, err := p.Create(ctx, 7, 4900, "card")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	pay, ok := p.Get(id)
	require.True(t, ok)
	assert.Equal(t, PaymentPending, pay.Status)

	require.NoError(t, p.Delete(ctx, id))
	assert.Zero(t, p.Len())

	p.FailDelete(errors.New("gateway timeout"))
	_, err = p.Create(ctx, 7, 100, "card")
	require.NoError(t, err)
	assert.Error(t, p.Delete(ctx, 2))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []Call{
		{Op: "create", Args: []int64{7, 4900}},
		{Op: "delete", Args: []int64{1}},
		{Op: "create", Args: []int64{7, 100}},
		{Op: "delete", Args: []int64{2}},
	}, p.Calls())
}

func TestEnrollments(t *testing.T) {
	ctx := context.Background()
	e := NewEnrollments()

	e.FailCreate(errors.New("duplicate"))
	_, err := e.Create(ctx, 7, 1, 1)
	assert.Error(t, err)

	e.FailCreate(nil)
	id, err := e.Create(ctx, 7, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, e.Len())
}

func TestCapacity(t *testing.T) {
	ctx := context.Background()
	c := NewCapacity(map[int64]int{1: 1})

	ok, err := c.Adjust(ctx, 1, -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, c.Seats(1))

	ok, err = c.Adjust(ctx, 1, -1)
	require.NoError(t, err)
	assert.False(t, ok, "cannot go below zero seats")

	c.Refuse(true)
	ok, _ = c.Adjust(ctx, 1, 1)
	assert.False(t, ok)
	assert.Zero(t, c.Seats(1))
}

func TestCallString(t *testing.T) {
	assert.Equal(t, "adjust[3 -1]", Call{Op: "adjust", Args: []int64{3, -1}}.String())
}
