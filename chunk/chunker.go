package chunk

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/clearance/core"
)

const (
	DefaultMinSize = 200
	DefaultMaxSize = 1000
	DefaultOverlap = 0.1
)

var ErrInvalidBounds = errors.New("invalid chunk bounds")

// Chunker splits document text into ordered passages.
//
// Text is cut into sentence units, which are packed greedily up to the
// maximum size. A paragraph break closes the passage once it has reached the
// minimum size, so loosely structured text (headings, short clauses, lists)
// yields short passages along its own seams while dense prose fills passages
// to the maximum. Units that alone exceed the maximum are split between
// words; a single word wider than the maximum is split at fixed width.
//
// Sizes are measured in bytes. A Chunker is immutable and safe for
// concurrent use.
type Chunker struct {
	minSize int
	maxSize int
	overlap float64
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMinSize sets the size at which a paragraph break closes a passage.
func WithMinSize(n int) Option {
	return func(c *Chunker) { c.minSize = n }
}

// WithMaxSize sets the passage size ceiling.
func WithMaxSize(n int) Option {
	return func(c *Chunker) { c.maxSize = n }
}

// WithOverlap sets the fraction of the maximum size that consecutive
// passages within one paragraph may share.
func WithOverlap(fraction float64) Option {
	return func(c *Chunker) { c.overlap = fraction }
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		minSize: DefaultMinSize,
		maxSize: DefaultMaxSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minSize <= 0 || c.maxSize < c.minSize {
		return nil, fmt.Errorf("%w: min %d, max %d", ErrInvalidBounds, c.minSize, c.maxSize)
	}
	if c.overlap < 0 || c.overlap >= 0.5 {
		return nil, fmt.Errorf("%w: overlap %.2f outside [0, 0.5)", ErrInvalidBounds, c.overlap)
	}
	return c, nil
}

// Chunk splits text into passages belonging to documentID. Empty or
// whitespace-only text yields no passages.
func (c *Chunker) Chunk(documentID core.ID, text string) []*core.Passage {
	spans := c.Split(text)
	passages := make([]*core.Passage, len(spans))
	for i, s := range spans {
		passages[i] = &core.Passage{
			Id:         core.PassageID(documentID, i),
			DocumentId: documentID,
			Ordinal:    i,
			Text:       text[s.Start:s.End],
			Start:      s.Start,
			End:        s.End,
		}
	}
	return passages
}

// Span is a byte range of the source text.
type Span struct {
	Start int
	End   int
}

// Split returns the passage spans of text in order.
func (c *Chunker) Split(text string) []Span {
	var units []unit
	for _, u := range segment(text) {
		units = append(units, splitLong(text, u, c.maxSize)...)
	}
	if len(units) == 0 {
		return nil
	}

	budget := int(c.overlap * float64(c.maxSize))
	var spans []Span
	first, minLast := 0, 0
	for {
		last := first
		for last+1 < len(units) {
			if last >= minLast && units[last].paragraphEnd && units[last].end-units[first].start >= c.minSize {
				break
			}
			if units[last+1].end-units[first].start > c.maxSize {
				break
			}
			last++
		}
		spans = append(spans, Span{Start: units[first].start, End: units[last].end})
		if last == len(units)-1 {
			return spans
		}

		next := last + 1
		if !units[last].paragraphEnd {
			for k := last; k > first; k-- {
				if units[last].end-units[k].start > budget || units[last+1].end-units[k].start > c.maxSize {
					break
				}
				next = k
			}
		}
		first, minLast = next, last+1
	}
}

type unit struct {
	start        int
	end          int
	paragraphEnd bool
}

// segment cuts text into trimmed sentence units. A blank line ends a
// paragraph; terminal punctuation followed by whitespace ends a sentence.
func segment(text string) []unit {
	var units []unit
	start := -1
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			if start < 0 {
				start = i
			}
			i += w
			continue
		}

		j, newlines := skipSpace(text, i)
		if start >= 0 {
			switch {
			case newlines >= 2:
				units = append(units, unit{start: start, end: i, paragraphEnd: true})
				start = -1
			case endsSentence(text[start:i]):
				units = append(units, unit{start: start, end: i})
				start = -1
			}
		}
		i = j
	}
	if start >= 0 {
		units = append(units, unit{start: start, end: len(text)})
	}
	if len(units) > 0 {
		units[len(units)-1].paragraphEnd = true
	}
	return units
}

func skipSpace(text string, i int) (int, int) {
	newlines := 0
	for i < len(text) {
		r, w := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		if r == '\n' {
			newlines++
		}
		i += w
	}
	return i, newlines
}

func endsSentence(s string) bool {
	for len(s) > 0 {
		r, w := utf8.DecodeLastRuneInString(s)
		switch r {
		case '"', '\'', ')', ']', '”', '’':
			s = s[:len(s)-w]
			continue
		case '.', '!', '?', ';':
			return true
		}
		return false
	}
	return false
}

// splitLong breaks a unit wider than limit between words, falling back to
// fixed-width pieces for words that are themselves wider than limit.
func splitLong(text string, u unit, limit int) []unit {
	if u.end-u.start <= limit {
		return []unit{u}
	}

	var out []unit
	pieceStart, pieceEnd := -1, 0
	flush := func() {
		if pieceStart >= 0 {
			out = append(out, unit{start: pieceStart, end: pieceEnd})
			pieceStart = -1
		}
	}
	for _, w := range words(text, u.start, u.end) {
		if w.end-w.start > limit {
			flush()
			out = append(out, hardSplit(text, w, limit)...)
			continue
		}
		if pieceStart >= 0 && w.end-pieceStart > limit {
			flush()
		}
		if pieceStart < 0 {
			pieceStart = w.start
		}
		pieceEnd = w.end
	}
	flush()
	out[len(out)-1].paragraphEnd = u.paragraphEnd
	return out
}

func words(text string, start, end int) []unit {
	var out []unit
	wordStart := -1
	for i := start; i < end; {
		r, w := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if wordStart >= 0 {
				out = append(out, unit{start: wordStart, end: i})
				wordStart = -1
			}
		} else if wordStart < 0 {
			wordStart = i
		}
		i += w
	}
	if wordStart >= 0 {
		out = append(out, unit{start: wordStart, end: end})
	}
	return out
}

// hardSplit cuts w into pieces of at most limit bytes on rune boundaries.
func hardSplit(text string, w unit, limit int) []unit {
	var out []unit
	for s := w.start; s < w.end; {
		e := min(s+limit, w.end)
		for e > s && e < w.end && !utf8.RuneStart(text[e]) {
			e--
		}
		if e == s {
			_, size := utf8.DecodeRuneInString(text[s:])
			e = s + size
		}
		out = append(out, unit{start: s, end: e})
		s = e
	}
	return out
}
