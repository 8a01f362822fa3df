// Package segment splits an incrementally streamed LLM response into
// speakable sentence units.
//
// A [Segmenter] accumulates text increments. After each increment it checks
// the accumulator for a sentence terminal ('.', '!' or '?') followed by
// whitespace or by the end of the accumulated text. When one is present and
// the accumulator is longer than the minimum length, the whole accumulator is
// emitted as one [Segment] and cleared. The guard keeps abbreviations and
// short interjections ("Oi! ", "Sr. ") from turning into tiny synthesis calls.
// [Segmenter.Flush] emits whatever is left once the stream ends, regardless of
// the guard.
//
// Concatenating the Raw text of every emitted segment, in order, reproduces
// the input exactly.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinLength is the default guard: an accumulator is only emitted mid-stream
// when it is strictly longer than this many characters.
const MinLength = 15

// Segment is one sentence-sized unit of text.
type Segment struct {
	// Seq is the 0-based emission index within the current stream.
	Seq int

	// Raw is the accumulated text exactly as received.
	Raw string

	// Text is Raw with surrounding whitespace removed; this is what gets
	// synthesized.
	Text string

	// Final is set on the segment produced by Flush.
	Final bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMinLength overrides [MinLength].
func WithMinLength(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.minLen = n
		}
	}
}

// Segmenter is not safe for concurrent use; one stream drives one Segmenter.
type Segmenter struct {
	minLen int
	buf    strings.Builder
	seq    int
}

// New returns a Segmenter ready for a new stream.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{minLen: MinLength}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push appends delta to the accumulator and returns a segment if the
// accumulator now holds a complete sentence longer than the guard.
func (s *Segmenter) Push(delta string) (Segment, bool) {
	s.buf.WriteString(delta)
	acc := s.buf.String()
	if utf8.RuneCountInString(acc) <= s.minLen || !hasTerminal(acc) {
		return Segment{}, false
	}
	return s.emit(acc, false), true
}

// Flush emits the trailing text at stream end. Whitespace-only tails are
// cleared but not returned since there is nothing to speak; their Raw text is
// returned through the second result so callers can still account for it.
func (s *Segmenter) Flush() (Segment, bool) {
	acc := s.buf.String()
	if strings.TrimSpace(acc) == "" {
		s.buf.Reset()
		return Segment{Raw: acc}, false
	}
	return s.emit(acc, true), true
}

// Pending returns the text accumulated since the last emission.
func (s *Segmenter) Pending() string { return s.buf.String() }

// Reset discards pending text and restarts sequence numbering.
func (s *Segmenter) Reset() {
	s.buf.Reset()
	s.seq = 0
}

func (s *Segmenter) emit(acc string, final bool) Segment {
	seg := Segment{
		Seq:   s.seq,
		Raw:   acc,
		Text:  strings.TrimSpace(acc),
		Final: final,
	}
	s.seq++
	s.buf.Reset()
	return seg
}

// hasTerminal reports whether s contains '.', '!' or '?' followed by a
// whitespace rune or by the end of s.
func hasTerminal(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				return true
			}
			r, _ := utf8.DecodeRuneInString(s[i+1:])
			if unicode.IsSpace(r) {
				return true
			}
		}
	}
	return false
}
