package lm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/voxwave/decoder/api"
)

// Entry is one parsed ARPA n-gram line: p(w1..wn) w1 w2 ... wn [backoff].
// Words is oldest-first, matching the ARPA file's own order (spec.md
// §4.G notes the store's internal representation is newest-first; the
// reversal happens at insert time in store.go, keeping this parser a
// faithful, order-preserving line reader per SPEC_FULL.md's "ARPA
// parsing ... is implemented as a small line-oriented scanner").
type Entry struct {
	Order    int
	Words    []string
	LogProb  float32
	HasBO    bool
	Backoff  float32
	LineNum  int
}

// ParsedARPA is the result of a full parse: declared counts, the
// per-order entries, and the vocabulary observed.
type ParsedARPA struct {
	// DeclaredCounts[i] is the count declared in \data\ for order i+1.
	DeclaredCounts []int
	Entries        [][]Entry // Entries[i] holds order (i+1) entries
	Vocab          []string  // insertion order, unigrams first
}

// ParseARPA reads standard ARPA text (spec.md §6 "LM input"): \data\,
// \N-grams:\ section markers, \end\. Only the logprob/backoff columns
// and the word-id sequence are consumed (spec.md §6: "The store only
// consumes logprob and backoff columns and the word-id sequence").
//
// Parse errors accumulate via hashicorp/go-multierror so a single call
// reports every malformed line (SPEC_FULL.md §4.G); a declared-vs-
// observed count mismatch is recorded as ErrARPAInconsistent in the
// returned error only when strict is true (spec.md §9 open question (c));
// otherwise it is left for the caller to log.
func ParseARPA(r io.Reader, strict bool) (*ParsedARPA, []string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result ParsedARPA
	var warnings []string
	var errs *multierror.Error

	state := "preamble"
	curOrder := 0
	observed := make([]int, 0)
	seenWord := make(map[string]bool)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == `\data\`:
			state = "data"
			continue
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, `-grams:`):
			orderStr := strings.TrimSuffix(strings.TrimPrefix(line, `\`), "-grams:")
			n, err := strconv.Atoi(orderStr)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%w: line %d: bad section header %q", api.ErrARPABadFormat, lineNum, line))
				continue
			}
			curOrder = n
			state = "ngrams"
			for len(result.Entries) < curOrder {
				result.Entries = append(result.Entries, nil)
			}
			for len(observed) < curOrder {
				observed = append(observed, 0)
			}
			continue
		case line == `\end\`:
			state = "done"
			continue
		}

		switch state {
		case "data":
			if !strings.HasPrefix(line, "ngram ") {
				continue
			}
			// "ngram 1=1234"
			rest := strings.TrimPrefix(line, "ngram ")
			parts := strings.SplitN(rest, "=", 2)
			if len(parts) != 2 {
				errs = multierror.Append(errs, fmt.Errorf("%w: line %d: bad ngram count line %q", api.ErrARPABadFormat, lineNum, line))
				continue
			}
			order, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			count, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				errs = multierror.Append(errs, fmt.Errorf("%w: line %d: bad ngram count line %q", api.ErrARPABadFormat, lineNum, line))
				continue
			}
			for len(result.DeclaredCounts) < order {
				result.DeclaredCounts = append(result.DeclaredCounts, 0)
			}
			result.DeclaredCounts[order-1] = count
		case "ngrams":
			e, err := parseNgramLine(line, curOrder, lineNum)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			result.Entries[curOrder-1] = append(result.Entries[curOrder-1], e)
			observed[curOrder-1]++
			for _, w := range e.Words {
				if !seenWord[w] {
					seenWord[w] = true
					result.Vocab = append(result.Vocab, w)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: %v", api.ErrARPABadFormat, err))
	}
	if state != "done" {
		errs = multierror.Append(errs, fmt.Errorf("%w: missing \\end\\ marker", api.ErrARPATruncated))
	}

	for i, declared := range result.DeclaredCounts {
		var obs int
		if i < len(observed) {
			obs = observed[i]
		}
		if declared != obs {
			msg := fmt.Sprintf("order %d: declared %d n-grams, observed %d", i+1, declared, obs)
			if strict {
				errs = multierror.Append(errs, fmt.Errorf("%w: %s", api.ErrARPAInconsistent, msg))
			} else {
				warnings = append(warnings, msg)
			}
		}
	}

	if errs.ErrorOrNil() != nil {
		return &result, warnings, errs.ErrorOrNil()
	}
	return &result, warnings, nil
}

// parseNgramLine parses "logprob w1 w2 ... wn [backoff]".
func parseNgramLine(line string, order, lineNum int) (Entry, error) {
	fields := strings.Fields(line)
	// logprob + order words [+ backoff]
	if len(fields) < order+1 {
		return Entry{}, fmt.Errorf("%w: line %d: expected at least %d fields, got %d (%q)", api.ErrARPABadFormat, lineNum, order+1, len(fields), line)
	}
	lp, err := strconv.ParseFloat(fields[0], 32)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: line %d: bad logprob %q", api.ErrARPABadFormat, lineNum, fields[0])
	}
	words := fields[1 : 1+order]
	e := Entry{
		Order:   order,
		Words:   words,
		LogProb: float32(lp),
		LineNum: lineNum,
	}
	if len(fields) > 1+order {
		bo, err := strconv.ParseFloat(fields[1+order], 32)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: line %d: bad backoff %q", api.ErrARPABadFormat, lineNum, fields[1+order])
		}
		e.HasBO = true
		e.Backoff = float32(bo)
	}
	return e, nil
}
