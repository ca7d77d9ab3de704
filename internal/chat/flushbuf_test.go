package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// feed streams text into a buffer in chunks of n runes and returns everything
// the buffer released, including the final Close.
func feed(b *StreamBuffer, text string, n int) string {
	var out strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out.WriteString(b.OnToken(string(runes[i:end])))
	}
	out.WriteString(b.Close())
	return out.String()
}

func TestFenceSurvivesArbitraryTokenSplits(t *testing.T) {
	t.Parallel()

	text := "look at this:\n```go\nfmt.Println(\"hi\")\n```\nthat was it\n"
	for _, n := range []int{1, 2, 3, 5, 7, 1000} {
		got := feed(NewStreamBuffer(), text, n)
		if got != text {
			t.Fatalf("split size %d mangled the stream:\n got: %q\nwant: %q", n, got, text)
		}
	}
}

func TestOpenFenceContentIsHeldUntilClose(t *testing.T) {
	t.Parallel()

	b := NewStreamBuffer()
	out := b.OnToken("```python\nprint(1)\n")
	assert.Empty(t, out, "fence content must not flush while the fence is open")
	assert.True(t, b.InCodeBlock())

	out = b.OnToken("```\n")
	assert.Contains(t, out, "```python\nprint(1)\n```")
	assert.False(t, b.InCodeBlock())
}

func TestStreamEndForceClosesOpenFence(t *testing.T) {
	t.Parallel()

	b := NewStreamBuffer()
	b.OnToken("```sh\necho hi")
	out := b.Close()
	if !strings.Contains(out, "echo hi") {
		t.Fatalf("fence content was dropped: %q", out)
	}
	if !strings.HasSuffix(out, "```") {
		t.Fatalf("expected force-closed fence, got %q", out)
	}
}

func TestPartialFenceMarkerIsNeverFlushed(t *testing.T) {
	t.Parallel()

	b := NewStreamBuffer()
	// Two of three backticks arrive, then a newline-bearing token follows.
	out := b.OnToken("here\n``")
	assert.Equal(t, "here\n", out)

	// The run completes into a fence opener, not literal backticks.
	b.OnToken("`go\ncode")
	assert.True(t, b.InCodeBlock())
	assert.Equal(t, "", b.Flush())

	out = b.OnToken("\n```")
	assert.Contains(t, out, "```go\ncode\n```")
}

func TestInlineBackticksPassThrough(t *testing.T) {
	t.Parallel()

	got := feed(NewStreamBuffer(), "use `fmt.Println` here\n", 3)
	assert.Equal(t, "use `fmt.Println` here\n", got)
}

func TestFlushCadence(t *testing.T) {
	t.Parallel()

	b := NewStreamBuffer()
	assert.Empty(t, b.OnToken("no newline yet"))
	assert.Equal(t, "no newline yet, now\n", b.OnToken(", now\n"))

	b2 := NewStreamBuffer()
	long := strings.Repeat("x", flushThreshold)
	assert.Equal(t, long, b2.OnToken(long), "size threshold must flush without a newline")
}

func TestHoldingAndClosedState(t *testing.T) {
	t.Parallel()

	b := NewStreamBuffer()
	assert.False(t, b.Holding())
	b.OnToken("partial")
	assert.True(t, b.Holding())
	b.Close()
	assert.False(t, b.Holding())
	assert.Empty(t, b.OnToken("after close"))
}
