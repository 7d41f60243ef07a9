package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/praxisllmlab/copydesk/internal/model"
)

func TestAggregator_ReplaceIsIdempotent(t *testing.T) {
	a := NewAggregator()
	tick := []model.ResultItem{
		okResult("A", "c1"),
		failResult("B", "name too long"),
		okResult("C", "c3"),
	}

	a.Replace(tick)
	ok1, bad1 := a.Counts()
	a.Replace(tick)
	ok2, bad2 := a.Counts()

	assert.Equal(t, 2, ok1)
	assert.Equal(t, 1, bad1)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, bad1, bad2)
	assert.Len(t, a.Results(), 3)
}

func TestAggregator_ReplaceDropsPreviousResults(t *testing.T) {
	a := NewAggregator()
	a.Replace(okResults(10))
	a.Replace([]model.ResultItem{okResult("A", "c1"), failResult("B", "x")})

	ok, bad := a.Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)
	assert.Equal(t, []string{"c1"}, successIDs(a.Results()))
}

func TestAggregator_SuccessIDs(t *testing.T) {
	a := NewAggregator()
	a.Replace([]model.ResultItem{
		okResult("A", "c1"),
		failResult("B", "upstream error"),
		{Success: true, Name: "C"}, // no content id to export
		okResult("D", "c4"),
	})

	assert.Equal(t, []string{"c1", "c4"}, successIDs(a.Results()))
}

func TestAggregator_ResultsAreCopies(t *testing.T) {
	a := NewAggregator()
	in := []model.ResultItem{okResult("A", "c1")}
	a.Replace(in)

	in[0].Name = "mutated"
	out := a.Results()
	out[0].ContentID = "mutated"

	assert.Equal(t, "A", a.Results()[0].Name)
	assert.Equal(t, "c1", a.Results()[0].ContentID)
}

func TestAggregator_Reset(t *testing.T) {
	a := NewAggregator()
	a.Replace(okResults(3))
	a.Reset()

	ok, bad := a.Counts()
	assert.Zero(t, ok)
	assert.Zero(t, bad)
	assert.Empty(t, a.Results())
	assert.Empty(t, successIDs(a.Results()))
}
