package pmlerr

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(UpstreamFailure, cause, "provider call failed")
	assert.Same(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(Overloaded, errors.New("full"), "gateway saturated")
	sentinel := New(Overloaded, "")
	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(NotFound, "")))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, NotFound, KindOf(New(NotFound, "missing")))
}

func TestWithTaskIDAndDetailsCopyOnWrite(t *testing.T) {
	base := New(InvalidArgument, "bad ref")
	annotated := base.WithTaskID("task-1").WithDetails(map[string]any{"field": "x"})
	assert.Empty(t, base.TaskID)
	assert.Equal(t, "task-1", annotated.TaskID)
	assert.Equal(t, "x", annotated.Details["field"])
}

func TestErrorMessageRedactsHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	if home == "" {
		t.Skip("no home directory available")
	}
	e := New(Internal, fmt.Sprintf("reading %s/config.yaml", home))
	assert.NotContains(t, e.Error(), home)
	assert.Contains(t, e.Error(), "~/config.yaml")
}

func TestKindStringMatchesTaxonomy(t *testing.T) {
	cases := map[Kind]string{
		Internal:             "Internal",
		InvalidArgument:      "InvalidArgument",
		NotFound:             "NotFound",
		DimensionMismatch:    "DimensionMismatch",
		Timeout:              "Timeout",
		Cancelled:            "Cancelled",
		UpstreamFailure:      "UpstreamFailure",
		Overloaded:           "Overloaded",
		NumericalInstability: "NumericalInstability",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestNilErrorMethodsAreSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, "", e.Error())
	assert.Nil(t, e.Unwrap())
	assert.Nil(t, e.WithTaskID("x"))
	assert.Nil(t, e.WithDetails(nil))
}
