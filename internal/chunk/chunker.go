// Package chunk splits document text into embedding-sized pieces.
package chunk

import (
	"regexp"
	"strings"
)

// Default chunking geometry, in words.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Strategy selects how text is divided.
type Strategy string

const (
	// StrategySemantic accumulates whole sentences and carries a sentence
	// tail between chunks so no thought is cut mid-sentence.
	StrategySemantic Strategy = "semantic"
	// StrategyFixed slides a fixed word window with word-level overlap.
	StrategyFixed Strategy = "fixed"
)

// Chunk is one piece of a split document.
type Chunk struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	WordCount     int    `json:"word_count"`
	SentenceCount int    `json:"sentence_count"`
}

// Chunker divides text into overlapping chunks measured in words.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size or negative overlap fall
// back to the defaults; overlap is clamped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split divides text using the given strategy. Unknown strategies use
// semantic chunking.
func (c *Chunker) Split(text string, strategy Strategy) []Chunk {
	if strategy == StrategyFixed {
		return c.splitFixed(text)
	}
	return c.splitSemantic(text)
}

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences divides text at sentence boundaries, keeping terminal
// punctuation and dropping fragments shorter than 10 characters.
func SplitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		// loc[0] is the punctuation mark; keep it with its sentence.
		if s := strings.TrimSpace(text[last : loc[0]+1]); len(s) >= 10 {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); len(s) >= 10 {
		sentences = append(sentences, s)
	}
	return sentences
}

func (c *Chunker) splitSemantic(text string) []Chunk {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.Join(current, " ")
		chunks = append(chunks, Chunk{
			Index:         len(chunks),
			Text:          joined,
			WordCount:     countWords(joined),
			SentenceCount: len(current),
		})
	}

	for _, sentence := range sentences {
		w := countWords(sentence)
		if currentWords > 0 && currentWords+w > c.size {
			flush()
			current = c.overlapTail(current)
			currentWords = 0
			for _, s := range current {
				currentWords += countWords(s)
			}
		}
		current = append(current, sentence)
		currentWords += w
	}
	flush()
	return chunks
}

// overlapTail returns the trailing sentences of a finished chunk whose
// combined word count fits within the overlap budget.
func (c *Chunker) overlapTail(sentences []string) []string {
	if c.overlap == 0 || len(sentences) == 0 {
		return nil
	}
	words := 0
	i := len(sentences)
	for i > 0 {
		w := countWords(sentences[i-1])
		if words+w > c.overlap {
			break
		}
		words += w
		i--
	}
	if i == len(sentences) {
		return nil
	}
	return append([]string(nil), sentences[i:]...)
}

func (c *Chunker) splitFixed(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(words); start += stride {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		joined := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{
			Index:         len(chunks),
			Text:          joined,
			WordCount:     end - start,
			SentenceCount: len(SplitSentences(joined)),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
