package chat

import "strings"

// flushThreshold is the unflushed size at which a buffer flushes even
// without a newline boundary.
const flushThreshold = 160

// StreamBuffer batches one participant's incoming tokens and decides when
// they are safe to show. Fence state is tracked character by character so a
// triple-backtick marker split across token boundaries is never rendered as
// plain text, and content inside an open fence is held back until the fence
// closes.
type StreamBuffer struct {
	unflushed      strings.Builder
	codeBlockAccum strings.Builder
	inCodeBlock    bool
	tickRun        int
	headerEmitted  bool
	closed         bool
}

func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

// OnToken folds a token into the buffer and returns any text that became
// ready for display, or "" when nothing flushed.
func (b *StreamBuffer) OnToken(token string) string {
	if b.closed {
		return ""
	}
	for _, r := range token {
		b.consume(r)
	}
	if b.shouldFlush() {
		return b.Flush()
	}
	return ""
}

func (b *StreamBuffer) consume(r rune) {
	if r == '`' {
		b.tickRun++
		if b.tickRun < 3 {
			return
		}
		b.tickRun = 0
		if b.inCodeBlock {
			b.codeBlockAccum.WriteString("```")
			b.unflushed.WriteString(b.codeBlockAccum.String())
			b.codeBlockAccum.Reset()
			b.inCodeBlock = false
		} else {
			b.inCodeBlock = true
			b.codeBlockAccum.WriteString("```")
		}
		return
	}
	if b.tickRun > 0 {
		b.sink().WriteString(strings.Repeat("`", b.tickRun))
		b.tickRun = 0
	}
	b.sink().WriteRune(r)
}

func (b *StreamBuffer) sink() *strings.Builder {
	if b.inCodeBlock {
		return &b.codeBlockAccum
	}
	return &b.unflushed
}

func (b *StreamBuffer) shouldFlush() bool {
	pending := b.unflushed.String()
	return strings.Contains(pending, "\n") || len(pending) >= flushThreshold
}

// Flush drains the displayable portion of the buffer. Fence content still
// accumulating stays held.
func (b *StreamBuffer) Flush() string {
	out := b.unflushed.String()
	b.unflushed.Reset()
	return out
}

// Close drains everything at end of stream. An open fence is flushed verbatim
// and force-closed instead of being dropped.
func (b *StreamBuffer) Close() string {
	if b.closed {
		return ""
	}
	b.closed = true
	if b.tickRun > 0 {
		b.sink().WriteString(strings.Repeat("`", b.tickRun))
		b.tickRun = 0
	}
	out := b.unflushed.String() + b.codeBlockAccum.String()
	b.unflushed.Reset()
	b.codeBlockAccum.Reset()
	if b.inCodeBlock {
		b.inCodeBlock = false
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += "```"
	}
	return out
}

// InCodeBlock reports whether a fence is currently open.
func (b *StreamBuffer) InCodeBlock() bool { return b.inCodeBlock }

// Holding reports whether the buffer still holds content a promotion pass
// must wait for.
func (b *StreamBuffer) Holding() bool {
	return !b.closed && (b.unflushed.Len() > 0 || b.codeBlockAccum.Len() > 0 || b.tickRun > 0)
}

// HeaderEmitted tracks whether the participant's name line was already
// printed for this turn.
func (b *StreamBuffer) HeaderEmitted() bool { return b.headerEmitted }
func (b *StreamBuffer) MarkHeaderEmitted()  { b.headerEmitted = true }
