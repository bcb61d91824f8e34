package verifier

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	"golang.org/x/crypto/blake2s"

	"shieldpool/internal/circuits"
	"shieldpool/internal/types"
)

// Checksum returns the blake2s-256 digest of the serialised verifying key.
func Checksum(vk groth16.VerifyingKey) ([32]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return [32]byte{}, err
	}
	return blake2s.Sum256(buf.Bytes()), nil
}

// ParseChecksum decodes a hex encoded checksum.
func ParseChecksum(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("checksum must be %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

// LoadKeys reads the verifying key of every kind from dir, using the file
// layout written by circuits.SetupOrLoadKeys for a tree of the given depth.
func LoadKeys(dir string, depth int) (map[types.Kind]groth16.VerifyingKey, error) {
	keys := make(map[types.Kind]groth16.VerifyingKey, len(types.Kinds))
	for _, kind := range types.Kinds {
		_, vkPath := circuits.KeyPaths(dir, kind, depth)
		vk, err := circuits.LoadVerifyingKey(vkPath)
		if err != nil {
			return nil, fmt.Errorf("load %s verifying key: %w", kind, err)
		}
		keys[kind] = vk
	}
	return keys, nil
}
