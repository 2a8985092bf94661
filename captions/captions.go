// Package captions turns character-level speech alignment into word timings,
// subtitle blocks and caption pages.
package captions

import (
	"fmt"
	"strings"
)

// DefaultMaxWordsPerBlock is the subtitle block size used when none is given.
const DefaultMaxWordsPerBlock = 10

// Alignment is the per-character timing data returned by the voice synthesizer.
type Alignment struct {
	Characters                 []string  `json:"characters"`
	CharacterStartTimesSeconds []float64 `json:"character_start_times_seconds"`
	CharacterEndTimesSeconds   []float64 `json:"character_end_times_seconds"`
}

// Word is one spoken word with its timing in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Emoji string  `json:"emoji,omitempty"`
}

// Raw is persisted as a video's captions_raw column.
type Raw struct {
	Alignment           Alignment  `json:"alignment"`
	NormalizedAlignment *Alignment `json:"normalizedAlignment,omitempty"`
}

// Processed is persisted as a video's captions_processed column.
type Processed struct {
	Words []Word `json:"words"`
	SRT   string `json:"srt"`
}

// CharactersToWords groups aligned characters into words. A space closes the
// current word; every other character, punctuation included, is part of it.
func CharactersToWords(a Alignment) []Word {
	n := len(a.Characters)
	if len(a.CharacterStartTimesSeconds) < n {
		n = len(a.CharacterStartTimesSeconds)
	}
	if len(a.CharacterEndTimesSeconds) < n {
		n = len(a.CharacterEndTimesSeconds)
	}

	var (
		words   []Word
		current strings.Builder
		start   float64
		end     float64
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		words = append(words, Word{Word: current.String(), Start: start, End: end})
		current.Reset()
	}

	for i := 0; i < n; i++ {
		ch := a.Characters[i]
		if ch == " " {
			flush()
			continue
		}
		if current.Len() == 0 {
			start = a.CharacterStartTimesSeconds[i]
		}
		current.WriteString(ch)
		end = a.CharacterEndTimesSeconds[i]
	}
	flush()

	return words
}

// WordsToSRT renders words as numbered subtitle blocks. A block closes after
// maxWords words or after a word ending in '.', '!' or '?'. A maxWords below
// one falls back to DefaultMaxWordsPerBlock.
func WordsToSRT(words []Word, maxWords int) string {
	if maxWords < 1 {
		maxWords = DefaultMaxWordsPerBlock
	}

	var b strings.Builder
	index := 1
	for _, block := range Blocks(words, maxWords) {
		texts := make([]string, len(block))
		for i, w := range block {
			texts[i] = w.Word
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			index,
			FormatTimestamp(block[0].Start),
			FormatTimestamp(block[len(block)-1].End),
			strings.Join(texts, " "),
		)
		index++
	}
	return b.String()
}

// Blocks splits words the same way WordsToSRT does.
func Blocks(words []Word, maxWords int) [][]Word {
	if maxWords < 1 {
		maxWords = DefaultMaxWordsPerBlock
	}

	var (
		blocks  [][]Word
		current []Word
	)
	for _, w := range words {
		current = append(current, w)
		if len(current) >= maxWords || endsSentence(w.Word) {
			blocks = append(blocks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

// Pages splits words into consecutive fixed-size caption pages.
func Pages(words []Word, size int) [][]Word {
	if size < 1 {
		size = 1
	}
	var pages [][]Word
	for i := 0; i < len(words); i += size {
		j := i + size
		if j > len(words) {
			j = len(words)
		}
		pages = append(pages, words[i:j])
	}
	return pages
}

// FormatTimestamp formats seconds as HH:MM:SS,mmm, truncating to whole
// milliseconds.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	// The epsilon absorbs binary representation error, e.g. 1.234*1000.
	ms := int64(seconds*1000 + 1e-6)
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}
