package vectorstore

import (
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// PointID derives a passage's index identity from its source and ordinal.
// The hash is non-cryptographic and collisions are possible; the top bit is
// cleared so the result fits backends that require a non-negative int64.
func PointID(source string, index int) uint64 {
	return xxhash.Sum64String(source+"_"+strconv.Itoa(index)) & math.MaxInt64
}
