package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// MaxPatterns caps how many glob patterns a PatternSet accepts. The cap is a
// deliberate resource bound; additions past it are rejected with an error.
const MaxPatterns = 128

// Pattern is a single glob translated into an anchored regular expression.
// A pattern that failed to compile stays in the set but never matches.
type Pattern struct {
	Glob     string
	re       *regexp.Regexp
	compiled bool
}

// Compiled reports whether the pattern is usable for matching.
func (p Pattern) Compiled() bool {
	return p.compiled
}

// PatternSet holds the glob patterns a monitor filters filenames against.
// A set with no usable patterns matches every filename.
type PatternSet struct {
	patterns []Pattern
	compiled int
	logger   *zap.Logger
}

// NewPatternSet compiles the given globs into a PatternSet. Globs that fail to
// compile are logged and skipped rather than aborting the set, so one bad
// pattern does not block the others. Globs past MaxPatterns are rejected.
func NewPatternSet(globs []string, logger *zap.Logger) *PatternSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PatternSet{logger: logger}
	for _, glob := range globs {
		if err := s.Add(glob); err != nil {
			logger.Warn("skipping pattern", zap.String("glob", glob), zap.Error(err))
		}
	}
	return s
}

// Add compiles one glob and appends it to the set. It returns an error when
// the set is full or the translated expression does not compile; the failed
// entry is retained with compiled=false so the slot is visibly accounted for.
func (s *PatternSet) Add(glob string) error {
	if len(s.patterns) >= MaxPatterns {
		return fmt.Errorf("too many patterns, max is %d", MaxPatterns)
	}

	expr := globToRegexp(norm.NFC.String(glob))
	re, err := regexp.Compile(expr)
	if err != nil {
		s.patterns = append(s.patterns, Pattern{Glob: glob})
		return fmt.Errorf("compiling pattern %q: %w", glob, err)
	}

	s.logger.Debug("compiled pattern", zap.String("glob", glob), zap.String("expr", expr))
	s.patterns = append(s.patterns, Pattern{Glob: glob, re: re, compiled: true})
	s.compiled++
	return nil
}

// Matches reports whether name matches any compiled pattern. A set with no
// compiled patterns matches everything. The first match wins; order among
// patterns does not affect the result.
func (s *PatternSet) Matches(name string) bool {
	if s.compiled == 0 {
		return true
	}
	name = norm.NFC.String(name)
	for _, p := range s.patterns {
		if p.compiled && p.re.MatchString(name) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns in the set, compiled or not.
func (s *PatternSet) Len() int {
	return len(s.patterns)
}

// CompiledLen returns the number of usable patterns.
func (s *PatternSet) CompiledLen() int {
	return s.compiled
}

// globToRegexp translates a shell glob into a regular expression anchored to
// the whole filename: `*` matches any run of characters, `?` any single
// character, and `.` is escaped to a literal dot. All other characters pass
// through unchanged, so globs with stray regexp metacharacters may fail to
// compile and are handled by the caller.
func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('$')
	return b.String()
}
