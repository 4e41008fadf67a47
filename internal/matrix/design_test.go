package matrix

import (
	"errors"
	"testing"

	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridMatrix(t *testing.T) *Matrix {
	t.Helper()
	names := map[int64]string{1: "x1", 2: "x2", 3: "y"}
	var values []*store.Value
	for p := int64(1); p <= 3; p++ {
		for f := int64(1); f <= 3; f++ {
			values = append(values, &store.Value{PointID: p, FeatureID: f, Value: float64(p*10 + f)})
		}
	}
	m, err := FromTriples(1, pts(1, 2, 3), feats(names, 1, 2, 3), values, FromMetadata)
	require.NoError(t, err)
	return m
}

func TestSplitTarget_LastColumnDefault(t *testing.T) {
	d, err := gridMatrix(t).SplitTarget(-1)
	require.NoError(t, err)

	assert.Equal(t, "y", d.Target.Name)
	assert.Equal(t, []float64{13, 23, 33}, d.Y)
	require.Len(t, d.Predictors, 2)
	assert.Equal(t, int64(1), d.Predictors[0].FeatureID)
	assert.Equal(t, int64(2), d.Predictors[1].FeatureID)
	assert.Equal(t, 1, d.Predictors[1].Index)
	assert.Equal(t, 22.0, d.X.At(1, 1))
}

func TestSplitTarget_MiddleColumnKeepsPairs(t *testing.T) {
	d, err := gridMatrix(t).SplitTarget(1)
	require.NoError(t, err)

	assert.Equal(t, "x2", d.Target.Name)
	require.Len(t, d.Predictors, 2)
	assert.Equal(t, "x1", d.Predictors[0].Name)
	assert.Equal(t, "y", d.Predictors[1].Name)
	assert.Equal(t, 1, d.Predictors[1].Index)
	// Column for feature 3 now lives at X position 1.
	assert.Equal(t, 33.0, d.X.At(2, 1))
}

func TestSplitTarget_Preconditions(t *testing.T) {
	_, err := gridMatrix(t).SplitTarget(5)
	assert.True(t, errors.Is(err, store.ErrPreconditionViolation))

	empty, err := FromTriples(1, nil, nil, nil, FromMetadata)
	require.NoError(t, err)
	_, err = empty.SplitTarget(-1)
	assert.True(t, errors.Is(err, store.ErrPreconditionViolation))

	single, err := FromTriples(1, pts(1), feats(nil, 1), []*store.Value{{PointID: 1, FeatureID: 1, Value: 1}}, FromMetadata)
	require.NoError(t, err)
	_, err = single.SplitTarget(-1)
	assert.True(t, errors.Is(err, store.ErrPreconditionViolation))
}
