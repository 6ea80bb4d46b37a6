package experiment

import (
	"crypto/sha256"
	"math/big"
	"sort"
)

// ChooseVariant deterministically maps subject to one of the weighted
// versions. The SHA-256 digest of the subject, read as a big-endian unsigned
// integer, is reduced modulo the total weight; versions are walked in
// ascending order and the first whose cumulative weight exceeds the bucket
// wins. The same subject and weights always give the same version.
//
// With a zero total the smallest version is returned; with no weights, 0.
func ChooseVariant(subject string, weights map[int]int) int {
	if len(weights) == 0 {
		return 0
	}

	versions := make([]int, 0, len(weights))
	var total int64
	for v, w := range weights {
		versions = append(versions, v)
		if w > 0 {
			total += int64(w)
		}
	}
	sort.Ints(versions)

	if total == 0 {
		return versions[0]
	}

	sum := sha256.Sum256([]byte(subject))
	bucket := new(big.Int).Mod(new(big.Int).SetBytes(sum[:]), big.NewInt(total)).Int64()

	var cumulative int64
	for _, v := range versions {
		if w := weights[v]; w > 0 {
			cumulative += int64(w)
		}
		if bucket < cumulative {
			return v
		}
	}
	return versions[len(versions)-1]
}
