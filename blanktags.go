package blankquiz

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const blankTagPrefix = "[blank_"

var (
	// candidate tags: anything from "[blank_" up to the first "]"
	reBlankCandidate = regexp.MustCompile(`\[blank_[^\]]*\]`)

	// a well-formed tag, anchored to the whole candidate
	reBlankTag = regexp.MustCompile(`^\[blank_([0-9]+)\]$`)
)

// BlankTag is a well-formed [blank_N] occurrence in question text.
type BlankTag struct {
	Raw      string `json:"raw"`
	Position int    `json:"position"`
	Offset   int    `json:"offset"` // byte offset of "[" in the text
}

// TagScan holds the tag-like substrings found in a text, split by validity.
type TagScan struct {
	Valid   []BlankTag `json:"valid"`
	Invalid []string   `json:"invalid"`
}

// PositionAnalysis summarizes the positions carried by valid tags.
type PositionAnalysis struct {
	All        []int `json:"all"` // one entry per tag occurrence, text order
	Unique     []int `json:"unique"`
	Duplicates []int `json:"duplicates"`
	HasGaps    bool  `json:"hasGaps"`
}

// SyncResult reconciles text positions with configured blank positions.
type SyncResult struct {
	Missing        []int `json:"missing"`
	Extra          []int `json:"extra"`
	IsSynchronized bool  `json:"isSynchronized"`
}

// BlankTextReport is the combined result of validating question text
// against the configured blank positions.
type BlankTextReport struct {
	Positions             []int    `json:"positions"`
	InvalidTags           []string `json:"invalidTags"`
	DuplicatePositions    []int    `json:"duplicatePositions"`
	HasPositionGaps       bool     `json:"hasPositionGaps"`
	MissingConfigurations []int    `json:"missingConfigurations"`
	ExtraConfigurations   []int    `json:"extraConfigurations"`
	IsSynchronized        bool     `json:"isSynchronized"`
}

// HasFindings reports whether anything in the report needs attention.
func (r BlankTextReport) HasFindings() bool {
	return len(r.InvalidTags) > 0 || len(r.DuplicatePositions) > 0 || r.HasPositionGaps || !r.IsSynchronized
}

// ParseBlankTags finds every "[blank_...]" candidate in text and classifies
// it. A candidate without a closing bracket is not reported at all.
func ParseBlankTags(text string) TagScan {
	scan := TagScan{Valid: []BlankTag{}, Invalid: []string{}}
	for _, loc := range reBlankCandidate.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		m := reBlankTag.FindStringSubmatch(raw)
		if m == nil {
			scan.Invalid = append(scan.Invalid, raw)
			continue
		}
		scan.Valid = append(scan.Valid, BlankTag{Raw: raw, Position: parsePosition(m[1]), Offset: loc[0]})
	}
	return scan
}

// AnalyzePositions derives unique, duplicate and gap information from valid tags.
func AnalyzePositions(tags []BlankTag) PositionAnalysis {
	all := make([]int, 0, len(tags))
	counts := make(map[int]int, len(tags))
	for _, tag := range tags {
		all = append(all, tag.Position)
		counts[tag.Position]++
	}
	unique, duplicates := summarizeCounts(counts)
	return PositionAnalysis{
		All:        all,
		Unique:     unique,
		Duplicates: duplicates,
		HasGaps:    hasGaps(unique),
	}
}

// CompareConfigurations checks the sorted unique text positions against the
// configured positions. Extra positions keep the configured order.
func CompareConfigurations(textPositions, configured []int) SyncResult {
	inText := make(map[int]bool, len(textPositions))
	for _, p := range textPositions {
		inText[p] = true
	}
	inConfig := make(map[int]bool, len(configured))
	for _, p := range configured {
		inConfig[p] = true
	}

	missing := []int{}
	for _, p := range textPositions {
		if !inConfig[p] {
			missing = append(missing, p)
		}
	}
	extra := []int{}
	for _, p := range configured {
		if !inText[p] {
			extra = append(extra, p)
		}
	}

	return SyncResult{
		Missing:        missing,
		Extra:          extra,
		IsSynchronized: len(inText) == len(inConfig) && len(missing) == 0 && len(extra) == 0,
	}
}

// ValidateBlankText runs tag parsing, position analysis and configuration
// comparison in a single scan of text. It never fails; a nil configured
// slice means no blanks are configured.
func ValidateBlankText(text string, configured []int) BlankTextReport {
	report := BlankTextReport{
		Positions:             []int{},
		InvalidTags:           []string{},
		DuplicatePositions:    []int{},
		MissingConfigurations: []int{},
		ExtraConfigurations:   []int{},
	}

	if text == "" {
		report.ExtraConfigurations = append(report.ExtraConfigurations, configured...)
		report.IsSynchronized = len(configured) == 0
		return report
	}

	counts := make(map[int]int)
	for i := 0; i < len(text); {
		start := strings.Index(text[i:], blankTagPrefix)
		if start < 0 {
			break
		}
		start += i
		end := strings.IndexByte(text[start+len(blankTagPrefix):], ']')
		if end < 0 {
			// no closing bracket for this or any later candidate
			break
		}
		end += start + len(blankTagPrefix)

		body := text[start+len(blankTagPrefix) : end]
		if isDigits(body) {
			counts[parsePosition(body)]++
		} else {
			report.InvalidTags = append(report.InvalidTags, text[start:end+1])
		}
		i = end + 1
	}

	report.Positions, report.DuplicatePositions = summarizeCounts(counts)
	report.HasPositionGaps = hasGaps(report.Positions)

	sync := CompareConfigurations(report.Positions, configured)
	report.MissingConfigurations = sync.Missing
	report.ExtraConfigurations = sync.Extra
	report.IsSynchronized = sync.IsSynchronized
	return report
}

// ExtractBlankPositions returns the sorted unique positions of valid tags.
func ExtractBlankPositions(text string) []int {
	return ValidateBlankText(text, nil).Positions
}

// FormatBlankTag returns the [blank_N] tag for a position.
func FormatBlankTag(position int) string {
	return blankTagPrefix + strconv.Itoa(position) + "]"
}

// NextBlankPosition returns one past the highest valid position in text,
// or 1 when the text has no valid tags.
func NextBlankPosition(text string) int {
	positions := ExtractBlankPositions(text)
	if len(positions) == 0 {
		return 1
	}
	last := positions[len(positions)-1]
	if last == math.MaxInt {
		return last
	}
	return last + 1
}

// InsertBlankTag inserts the next blank tag at byte offset (clamped to the
// text, and moved back to the start of the rune it falls in) and returns the
// new text with the inserted position.
func InsertBlankTag(text string, offset int) (string, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}
	position := NextBlankPosition(text)
	return text[:offset] + FormatBlankTag(position) + text[offset:], position
}

func summarizeCounts(counts map[int]int) (unique, duplicates []int) {
	unique = make([]int, 0, len(counts))
	duplicates = []int{}
	for p, n := range counts {
		unique = append(unique, p)
		if n > 1 {
			duplicates = append(duplicates, p)
		}
	}
	sort.Ints(unique)
	sort.Ints(duplicates)
	return unique, duplicates
}

func hasGaps(sorted []int) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] > 1 {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parsePosition converts a digit run, saturating at math.MaxInt.
func parsePosition(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return math.MaxInt
	}
	return n
}
