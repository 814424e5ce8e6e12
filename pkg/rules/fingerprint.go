package rules

import (
	"encoding/hex"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a blake2b-256 digest of the rule logic. Rule order,
// premise order and note text do not matter; ids, premises and conclusions
// do. Use ContentFingerprint where notes or ordering reach the output.
func Fingerprint(rs []Rule) string {
	sorted := make([]Rule, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := Compare(sorted[i].ID, sorted[j].ID); c != 0 {
			return c < 0
		}
		return sorted[i].Conclusion < sorted[j].Conclusion
	})

	h, _ := blake2b.New256(nil)
	for _, r := range sorted {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		for _, p := range r.PremiseSet().Sorted() {
			h.Write([]byte(p))
			h.Write([]byte{1})
		}
		h.Write([]byte{0})
		h.Write([]byte(r.Conclusion))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentFingerprint returns a blake2b-256 digest of everything a rule set
// can contribute to a result: ids, premises in declared order, conclusions
// and descriptions, in the order given. Two sets with equal content
// fingerprints produce identical engine output.
func ContentFingerprint(rs []Rule) string {
	h, _ := blake2b.New256(nil)
	var size [8]byte
	field := func(s string) {
		n := uint64(len(s))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write([]byte(s))
	}
	for _, r := range rs {
		field(string(r.ID))
		field(strconv.Itoa(len(r.Premise)))
		for _, p := range r.Premise {
			field(string(p))
		}
		field(string(r.Conclusion))
		field(r.Describe())
	}
	return hex.EncodeToString(h.Sum(nil))
}
