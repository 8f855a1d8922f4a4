// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package sdrctl

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveDestinationIsDeterministic(t *testing.T) {
	a := DeriveDestination("W2NAF", "recorder-1")
	b := DeriveDestination("W2NAF", "recorder-1")
	assert.Equal(t, a, b)
}

func TestDeriveDestinationDiffersByInstrument(t *testing.T) {
	a := DeriveDestination("W2NAF", "recorder-1")
	b := DeriveDestination("W2NAF", "recorder-2")
	assert.NotEqual(t, a, b)
}

func TestDeriveDestinationStaysInAdministrativeScope(t *testing.T) {
	addr := DeriveDestination("KD2OM", "recorder-7")
	assert.True(t, strings.HasPrefix(addr, "239."))
}

func TestDeriveDestinationAvoidsReservedOctets(t *testing.T) {
	for i := 0; i < 500; i++ {
		addr := DeriveDestination("STATION", string(rune('a'+i%26)))
		var a, x, y, z int
		_, err := fmt.Sscanf(addr, "%d.%d.%d.%d", &a, &x, &y, &z)
		if err != nil {
			t.Fatalf("unparsable address %q: %v", addr, err)
		}
		assert.NotEqual(t, 0, x)
		assert.NotEqual(t, 255, x)
		assert.NotEqual(t, 0, y)
		assert.NotEqual(t, 255, y)
		assert.NotEqual(t, 0, z)
		assert.NotEqual(t, 255, z)
	}
}
