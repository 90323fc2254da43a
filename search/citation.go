package search

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/poiesic/clearance/core"
)

// citationSpace is the UUID namespace for citation handles.
var citationSpace = uuid.MustParse("6f1c4a52-3d0e-5b8e-9a41-2c7d0f5e8b13")

// Citation returns the stable handle of a passage. Use ordinal -1 for a
// reference to the whole document.
func Citation(documentID core.ID, ordinal int) string {
	name := strconv.FormatUint(uint64(documentID), 10) + "#" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(citationSpace, []byte(name)).String()
}
