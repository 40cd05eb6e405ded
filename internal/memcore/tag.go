package memcore

import (
	"fmt"
	"strings"
)

// Tag categorizes an allocation for accounting purposes only; it has no
// effect on how or where memory is allocated.
type Tag int

const (
	TagUnknown Tag = iota
	TagArray
	TagString
	TagHashtable
	TagQueue
	TagLinearAllocator
	TagDynamicAllocator
	TagThread
	TagMutex
	TagSemaphore
	TagFreelist
	TagApplication

	// TagAll is an accumulator, not a category: it is never attached to an
	// allocation, only used to report the grand total.
	TagAll
)

var tagLabels = [...]string{
	TagUnknown:          "UNKNOWN",
	TagArray:            "ARRAY",
	TagString:           "STRING",
	TagHashtable:        "HASHTABLE",
	TagQueue:            "QUEUE",
	TagLinearAllocator:  "LINEAR_ALLOCATOR",
	TagDynamicAllocator: "DYNAMIC_ALLOCATOR",
	TagThread:           "THREAD",
	TagMutex:            "MUTEX",
	TagSemaphore:        "SEMAPHORE",
	TagFreelist:         "FREELIST",
	TagApplication:      "APPLICATION",
	TagAll:              "ALL",
}

// String returns the tag's label, e.g. "ARRAY".
func (t Tag) String() string {
	if t < 0 || int(t) >= len(tagLabels) {
		return "UNKNOWN"
	}

	return tagLabels[t]
}

// tagCount is the number of real (non-accumulator) categories, used to
// size per-tag statistics tables.
const tagCount = int(TagAll)

// formatBytes renders n bytes as a 1024-based, two-decimal, auto-scaled
// value with unit B/KiB/MiB/GiB.
func formatBytes(n uint64) string {
	const unit = 1024.0

	units := [...]string{"B", "KiB", "MiB", "GiB"}
	value := float64(n)

	for _, u := range units[:len(units)-1] {
		if value < unit {
			return fmt.Sprintf("%.2f %s", value, u)
		}

		value /= unit
	}

	return fmt.Sprintf("%.2f %s", value, units[len(units)-1])
}

// renderStat builds the public stat() string: one line per tag, including
// tags with a zero balance, followed by a total and the reserved capacity.
func renderStat(byTag [tagCount]uint64, outstanding, capacity uint64) string {
	var b strings.Builder

	b.WriteString("System memory usage:\n")

	for tag := 0; tag < tagCount; tag++ {
		b.WriteString(fmt.Sprintf("          %s: %s\n", Tag(tag), formatBytes(byTag[tag])))
	}

	b.WriteString("          ------------------------------\n")
	b.WriteString(fmt.Sprintf("          TOTAL            : %s\n", formatBytes(outstanding)))
	b.WriteString(fmt.Sprintf("                            (%s reserved)\n", formatBytes(capacity)))

	return b.String()
}
