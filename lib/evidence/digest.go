// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/overwatch-ops/overwatch/lib/codec"
)

// digestKey is the BLAKE3 key for evidence digests: the ASCII domain
// name, zero-padded to 32 bytes. Changing it invalidates every stored
// digest.
var digestKey = [32]byte{
	'o', 'v', 'e', 'r', 'w', 'a', 't', 'c', 'h', '.', 'e', 'v', 'i', 'd', 'e', 'n',
	'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ComputeDigest hashes the content of record: every field except
// Digest and Tier, in deterministic CBOR.
func ComputeDigest(record *Record) (string, error) {
	content := *record
	content.Digest = ""
	content.Tier = TierFull

	data, err := codec.Marshal(&content)
	if err != nil {
		return "", fmt.Errorf("evidence: encoding %s for digest: %w", record.RunID, err)
	}
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		return "", fmt.Errorf("evidence: digest key: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyDigest recomputes record's digest and compares it with the
// recorded one.
func VerifyDigest(record *Record) error {
	computed, err := ComputeDigest(record)
	if err != nil {
		return err
	}
	if computed != record.Digest {
		return fmt.Errorf("%w: %s recorded %s, content hashes to %s",
			ErrDigestMismatch, record.RunID, record.Digest, computed)
	}
	return nil
}
