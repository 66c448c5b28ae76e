package transform

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit is how many leading bytes are inspected to tell text from binary.
const sniffLimit = 8192

// textMIME is the root of every MIME type the rewriter accepts.
const textMIME = "text/plain"

// Stats describes one Rewrite call.
type Stats struct {
	Lines        int
	Replacements int
	Bytes        int64
}

// Transformer rewrites text files using a ResourceMap. The compiled pattern
// is built once in New and only read afterwards, so a Transformer can be
// shared by any number of goroutines.
type Transformer struct {
	resources ResourceMap
	pattern   *regexp.Regexp
	logger    *slog.Logger
}

// New compiles every key of rm into a single alternation. Keys are quoted,
// so delimiters and key text always match literally. Alternatives are
// ordered longest first, which makes the leftmost-first regexp semantics
// pick the longest key at any position.
func New(rm ResourceMap, logger *slog.Logger) *Transformer {
	t := &Transformer{
		resources: rm,
		logger:    logger,
	}

	keys := rm.Keys()
	if len(keys) == 0 {
		return t
	}

	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}

	t.pattern = regexp.MustCompile(strings.Join(quoted, "|"))

	return t
}

// IsTextEligible reports whether the file at path should be rewritten.
// Anything that cannot be opened or classified is treated as binary.
func (t *Transformer) IsTextEligible(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		t.logger.Warn("content sniff failed, copying verbatim",
			slog.String("path", path), slog.String("error", err.Error()))

		return false
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(io.LimitReader(f, sniffLimit))
	if err != nil {
		t.logger.Warn("content sniff failed, copying verbatim",
			slog.String("path", path), slog.String("error", err.Error()))

		return false
	}

	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(textMIME) {
			return true
		}
	}

	t.logger.Debug("binary content detected",
		slog.String("path", path), slog.String("mime", mtype.String()))

	return false
}

// ReplaceLine substitutes every non-overlapping key occurrence in line and
// returns the rewritten line together with the number of substitutions.
func (t *Transformer) ReplaceLine(line string) (string, int) {
	if t.pattern == nil {
		return line, 0
	}

	count := 0
	out := t.pattern.ReplaceAllStringFunc(line, func(key string) string {
		count++
		return t.resources[key]
	})

	return out, count
}

// Lines lazily reads r one line at a time and yields each line rewritten,
// line terminators included. A read error is yielded once and ends the
// sequence.
func (t *Transformer) Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for line, err := range t.rewritten(r) {
			if err != nil {
				yield("", fmt.Errorf("transform: reading line: %w", err))
				return
			}

			if !yield(line.text, nil) {
				return
			}
		}
	}
}

// rewrittenLine is one output line and the substitutions made in it.
type rewrittenLine struct {
	text         string
	replacements int
}

// rewritten is the read loop behind Lines and Rewrite.
func (t *Transformer) rewritten(r io.Reader) iter.Seq2[rewrittenLine, error] {
	return func(yield func(rewrittenLine, error) bool) {
		br := bufio.NewReader(r)

		for {
			line, err := br.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(rewrittenLine{}, err)
				return
			}

			if line != "" {
				out, n := t.ReplaceLine(line)
				if !yield(rewrittenLine{text: out, replacements: n}, nil) {
					return
				}
			}

			if err != nil {
				return
			}
		}
	}
}

// Rewrite streams r into w line by line, substituting keys. Memory use is
// bounded by the longest line, not the file size. On error, whatever was
// already written to w stays there.
func (t *Transformer) Rewrite(r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats

	bw := bufio.NewWriter(w)

	for line, readErr := range t.rewritten(r) {
		if readErr != nil {
			bw.Flush()
			return stats, fmt.Errorf("transform: reading line %d: %w", stats.Lines+1, readErr)
		}

		written, err := bw.WriteString(line.text)
		stats.Bytes += int64(written)
		if err != nil {
			return stats, fmt.Errorf("transform: writing line %d: %w", stats.Lines+1, err)
		}

		stats.Lines++
		stats.Replacements += line.replacements
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("transform: flushing output: %w", err)
	}

	return stats, nil
}
