package service

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkerVersion identifies the splitting algorithm. Chunk IDs derive from
// it, so bumping it re-keys every chunk and forces a clean reprocess instead
// of mixing outputs of different algorithms under the same IDs.
const ChunkerVersion = "cv1"

const tokenEncoding = "cl100k_base"

// sentence-ending runes the splitter prefers to break after
const boundaryRunes = ".!?。！？\n"

// Segment is one chunk of text produced by the splitter.
type Segment struct {
	Ordinal    int
	Text       string
	TokenCount int
}

// Chunker splits extracted text into overlapping, ordered segments. The
// split is a pure function of (text, configuration): no clock, no
// randomness, so the ordinal-to-text mapping is reproducible.
type Chunker struct {
	target    int // target segment size in runes
	overlap   int // runes carried over into the next segment
	lookahead int // how far past target to search for a sentence boundary
	enc       *tiktoken.Tiktoken
}

// NewChunker creates a chunker with the given rune sizes. The tiktoken
// encoding is optional: when unavailable (offline environments), token
// counts fall back to whitespace word counts.
func NewChunker(target, overlap, lookahead int) *Chunker {
	if target <= 0 {
		target = 1200
	}
	if overlap < 0 || overlap >= target {
		overlap = target / 8
	}
	if lookahead < 0 {
		lookahead = 0
	}
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		enc = nil
	}
	return &Chunker{target: target, overlap: overlap, lookahead: lookahead, enc: enc}
}

// Split breaks text into segments of roughly target size with the configured
// overlap, preferring to end a segment at a sentence boundary within the
// lookahead window; when no boundary is found it splits at the hard offset.
// Ordinals are contiguous from 0.
func (c *Chunker) Split(text string) []Segment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var segments []Segment
	pos := 0
	for pos < len(runes) {
		end := pos + c.target
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.findBoundary(runes, end)
		}

		segText := strings.TrimSpace(string(runes[pos:end]))
		if segText != "" {
			segments = append(segments, Segment{
				Ordinal:    len(segments),
				Text:       segText,
				TokenCount: c.CountTokens(segText),
			})
		}

		if end >= len(runes) {
			break
		}

		next := end - c.overlap
		if next <= pos {
			// overlap must never stall the scan
			next = pos + 1
		}
		pos = next
	}

	return segments
}

// findBoundary returns the split offset for a segment that would naively end
// at target: the position just after the first sentence-ending rune within
// the lookahead window, or the hard target offset when none exists.
func (c *Chunker) findBoundary(runes []rune, target int) int {
	limit := target + c.lookahead
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := target; i < limit; i++ {
		if strings.ContainsRune(boundaryRunes, runes[i]) {
			return i + 1
		}
	}
	return target
}

// CountTokens returns the token count of a text under the configured
// encoding, or a whitespace word count when the encoding is unavailable.
func (c *Chunker) CountTokens(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
