// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseAccumulator_WriteAndRead(t *testing.T) {
	t.Setenv("ASSIST_INSECURE_MEMORY", "true")

	acc, err := NewResponseAccumulator()
	require.NoError(t, err)
	defer acc.Destroy()

	require.NoError(t, acc.Write("The condenser "))
	require.NoError(t, acc.Write("fan runs continuously."))

	assert.Equal(t, "The condenser fan runs continuously.", string(acc.Bytes()))
	assert.Equal(t, 36, acc.Len())
}

func TestResponseAccumulator_Overflow(t *testing.T) {
	acc := &plainAccumulator{data: make([]byte, 0, ResponseBufferSize)}
	defer acc.Destroy()

	big := strings.Repeat("x", ResponseBufferSize)
	require.NoError(t, acc.Write(big))

	err := acc.Write("one more byte")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")
}

func TestResponseAccumulator_DestroyWipes(t *testing.T) {
	acc := &plainAccumulator{data: make([]byte, 0, ResponseBufferSize)}
	require.NoError(t, acc.Write("sensitive response text"))

	acc.Destroy()

	assert.Nil(t, acc.Bytes())
	assert.Error(t, acc.Write("after destroy"))

	// Idempotent.
	acc.Destroy()
}
