// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasharray

import (
	"bytes"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithRandIsDeterministic(t *testing.T) {
	a1, err := New(testSize, 32, 4, 20, WithRand(rand.New(rand.NewSource(99))))
	require.NoError(t, err)
	a2, err := New(testSize, 32, 4, 20, WithRand(rand.New(rand.NewSource(99))))
	require.NoError(t, err)
	require.Equal(t, a1.Matrix().Columns(), a2.Matrix().Columns())
}

func TestWithLoggerIsAccepted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	a, err := New(testSize, 32, 4, 20, WithLogger(logger))
	require.NoError(t, err)
	require.NotNil(t, a)
}
