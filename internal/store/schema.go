package store

import (
	"encoding/binary"

	"shieldpool/internal/types"
)

// Key prefixes. Integers are big-endian so iteration follows numeric order.
var (
	prefixCommitment = []byte("c/") // c/<position> -> commitment
	prefixNullifier  = []byte("n/") // n/<nullifier> -> seq
	prefixBalance    = []byte("b/") // b/<asset><account> -> amount
	prefixPool       = []byte("p/") // p/<asset> -> amount
	prefixSupply     = []byte("s/") // s/<asset> -> amount
	prefixRoot       = []byte("r/") // r/<index> -> root
	prefixCiphertext = []byte("e/") // e/<position> -> ciphertext
	prefixOperation  = []byte("o/") // o/<seq> -> cbor Record

	keySeq   = []byte("m/seq")
	keyRoots = []byte("m/roots")
)

func key(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func commitmentKey(pos uint64) []byte        { return key(prefixCommitment, u64(pos)) }
func nullifierKey(nf types.Nullifier) []byte { return key(prefixNullifier, nf[:]) }
func poolKey(asset types.AssetID) []byte     { return key(prefixPool, u64(uint64(asset))) }
func supplyKey(asset types.AssetID) []byte   { return key(prefixSupply, u64(uint64(asset))) }
func rootKey(i uint64) []byte                { return key(prefixRoot, u64(i)) }
func ciphertextKey(pos uint64) []byte        { return key(prefixCiphertext, u64(pos)) }
func operationKey(seq uint64) []byte         { return key(prefixOperation, u64(seq)) }

func balanceKey(k types.BalanceKey) []byte {
	return key(prefixBalance, u64(uint64(k.Asset)), []byte(k.Account))
}

func parseBalanceKey(k []byte) (types.BalanceKey, bool) {
	rest := k[len(prefixBalance):]
	if len(rest) <= 8 {
		return types.BalanceKey{}, false
	}
	return types.BalanceKey{
		Asset:   types.AssetID(binary.BigEndian.Uint64(rest[:8])),
		Account: types.AccountID(rest[8:]),
	}, true
}

func suffixU64(k, prefix []byte) (uint64, bool) {
	rest := k[len(prefix):]
	if len(rest) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(rest), true
}

func decodeU64(v []byte) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}
