// Package voicecmd recognizes short spoken control phrases in a candidate's
// utterance, such as asking the interviewer to repeat the question.
//
// An utterance matches when it is short, some run of its words resembles a
// known phrase (Jaro-Winkler similarity on normalized text) and most of the
// phrase's words are phonetically present (Double Metaphone). A genuine answer
// that merely mentions "repeat" is still submitted.
package voicecmd

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Command is a recognized control phrase.
type Command string

const (
	// CommandRepeat asks for the last prompt to be spoken again.
	CommandRepeat Command = "repeat"
)

const (
	defaultThreshold = 0.88

	// extraWords is how many words an utterance may have beyond the phrase
	// it is compared with.
	extraWords = 3

	// minPhoneticCoverage is the share of phrase words whose phonetic code
	// must appear in the utterance.
	minPhoneticCoverage = 0.6
)

var defaultPhrases = map[Command][]string{
	CommandRepeat: {
		"repeat the question",
		"can you repeat the question",
		"could you repeat that",
		"please repeat that",
		"say that again",
		"can you say that again",
		"repeat please",
	},
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score. Default: 0.88.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithPhrases adds phrases for cmd.
func WithPhrases(cmd Command, phrases ...string) Option {
	return func(m *Matcher) {
		for _, p := range phrases {
			m.add(cmd, p)
		}
	}
}

type phrase struct {
	cmd    Command
	text   string
	tokens []string
	codes  []map[string]struct{}
}

// Matcher matches utterances against control phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	phrases   []phrase
}

// New returns a matcher with the built-in phrases plus any added by opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: defaultThreshold}
	for cmd, ps := range defaultPhrases {
		for _, p := range ps {
			m.add(cmd, p)
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Matcher) add(cmd Command, text string) {
	norm := normalize(text)
	if norm == "" {
		return
	}
	tokens := strings.Fields(norm)
	codes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes[i] = codesFor([]string{t})
	}
	m.phrases = append(m.phrases, phrase{cmd: cmd, text: norm, tokens: tokens, codes: codes})
}

// Match reports the command text expresses, if any.
func (m *Matcher) Match(text string) (Command, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	tokens := strings.Fields(norm)
	input := codesFor(tokens)

	var (
		best      Command
		bestScore float64
	)
	for _, p := range m.phrases {
		if len(tokens) > len(p.tokens)+extraWords {
			continue
		}
		score := windowScore(tokens, p)
		if score < m.threshold || score <= bestScore {
			continue
		}
		if coverage(input, p.codes) < minPhoneticCoverage {
			continue
		}
		best, bestScore = p.cmd, score
	}
	return best, best != ""
}

// windowScore compares the phrase with every run of input words of about the
// phrase's length, so lead-ins like "sorry" or trailing "please" do not hide
// a match.
func windowScore(tokens []string, p phrase) float64 {
	best := 0.0
	for size := max(1, len(p.tokens)-1); size <= len(p.tokens)+1; size++ {
		if size > len(tokens) {
			break
		}
		for start := 0; start+size <= len(tokens); start++ {
			cand := strings.Join(tokens[start:start+size], " ")
			if s := matchr.JaroWinkler(cand, p.text, false); s > best {
				best = s
			}
		}
	}
	if best == 0 {
		best = matchr.JaroWinkler(strings.Join(tokens, " "), p.text, false)
	}
	return best
}

// coverage returns the share of phrase words with a phonetic code present in
// the input.
func coverage(input map[string]struct{}, words []map[string]struct{}) float64 {
	if len(words) == 0 {
		return 0
	}
	hit := 0
	for _, codes := range words {
		for c := range codes {
			if _, ok := input[c]; ok {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(words))
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// normalize lowercases text, drops punctuation and collapses whitespace.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
