// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package sdrctl

import (
	"crypto/sha256"
	"fmt"
)

// administrativelyScopedBase is 239.0.0.0, the first octet of the
// administratively-scoped multicast range (RFC 2365) this instrument's
// destination is restricted to, per spec.md §6.
const administrativelyScopedBase = 239

// reservedOctets are avoided in the derived address's low three octets:
// 0 and 255 are reserved/broadcast-like within their octet and would
// produce an address a router or switch might treat specially.
func reservedOctet(b byte) bool {
	return b == 0 || b == 255
}

// DeriveDestination computes this instrument's deterministic multicast
// destination address, 239.X.Y.Z derived from
// SHA-256("GRAPE:<station_id>:<instrument_id>") (spec.md §6). Two
// instruments with the same station and instrument ID always derive the
// same address, which is the anti-hijacking rule's basis: a channel at
// that destination belongs to this instrument specifically.
func DeriveDestination(stationID, instrumentID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("GRAPE:%s:%s", stationID, instrumentID)))

	x, y, z := sum[0], sum[1], sum[2]
	for i, b := range []*byte{&x, &y, &z} {
		if reservedOctet(*b) {
			*b = sum[3+i]%254 + 1
		}
	}
	return fmt.Sprintf("%d.%d.%d.%d", administrativelyScopedBase, x, y, z)
}
