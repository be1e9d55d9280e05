package state

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultIDLength is the length of ids issued by RandomIDs.
const DefaultIDLength = 12

// IDGenerator issues ids for item and job instances. The store rejects and
// regenerates ids it has already issued.
type IDGenerator interface {
	Generate() string
}

// RandomIDs issues truncated random UUIDs as lowercase hex.
//
// Thread-safety: RandomIDs is stateless and safe for concurrent use.
type RandomIDs struct {
	Length int
}

// Generate returns a new random id.
func (g RandomIDs) Generate() string {
	n := g.Length
	if n <= 0 || n > 32 {
		n = DefaultIDLength
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
