package buffer

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any sequence of appends, the buffer never exceeds its maximum, and
// after a trim the buffer starts at a line boundary whenever a newline
// existed within the search window of the trim point.
func TestOutputBufferBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	chunkGen := gen.SliceOf(gen.OneConstOf(
		"plain text ",
		"short\n",
		"a much longer line of terminal output with no break in it ",
		"\n",
		"$ ",
	))

	properties.Property("length never exceeds max", prop.ForAll(
		func(max int, chunks []string) bool {
			b := NewOutputBuffer(max)
			for _, c := range chunks {
				b.Append([]byte(c))
				if b.Len() > b.Max() {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 512),
		chunkGen,
	))

	properties.Property("total appended is a suffix of itself", prop.ForAll(
		func(max int, chunks []string) bool {
			b := NewOutputBuffer(max)
			var all strings.Builder
			for _, c := range chunks {
				b.Append([]byte(c))
				all.WriteString(c)
			}
			// Whatever remains must be the most recent output.
			return strings.HasSuffix(all.String(), b.Contents())
		},
		gen.IntRange(1, 512),
		chunkGen,
	))

	properties.Property("trimmed newline-rich buffers start at a line boundary", prop.ForAll(
		func(lines []string) bool {
			// Every chunk ends in a newline and is shorter than the
			// search window, so a qualifying newline always exists
			// near the trim point.
			const max = 256
			b := NewOutputBuffer(max)
			var all strings.Builder
			for _, l := range lines {
				chunk := l + "\n"
				b.Append([]byte(chunk))
				all.WriteString(chunk)
			}
			if all.Len() <= max {
				return true // never trimmed
			}
			got := b.Contents()
			if got == "" {
				return true
			}
			// The byte preceding the remaining contents in the full
			// stream must be a newline.
			full := all.String()
			prev := full[len(full)-len(got)-1]
			return prev == '\n'
		},
		gen.SliceOf(gen.AlphaString().SuchThat(func(s string) bool {
			return len(s) < 100
		})),
	))

	properties.TestingRun(t)
}
