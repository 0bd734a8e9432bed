package event

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// Levenshtein returns the edit distance between a and b. It is a thin, stable-named
// wrapper over a reviewed third-party implementation per §9 ("the sample
// implementations shown in the source are not normative").
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// parsedEvent caches the JSON-decoded form of an event's RawData so that evaluating many
// predicates against the same event in one scan parses it only once (§9).
type parsedEvent struct {
	e        Event
	searched string // lazily built searchable text
	hasText  bool
	attrs    map[string]interface{} // lazily parsed RawData as a JSON object; nil if not an object
	attrsSet bool
}

func newParsedEvent(e Event) *parsedEvent {
	return &parsedEvent{e: e}
}

func (p *parsedEvent) searchableText() string {
	if p.hasText {
		return p.searched
	}
	var b strings.Builder
	b.WriteString(p.e.ID)
	b.WriteByte(' ')
	b.WriteString(string(p.e.Chain))
	b.WriteByte(' ')
	b.WriteString(p.e.EventType)
	b.WriteByte(' ')
	b.WriteString(p.e.TxHash)
	b.WriteByte(' ')
	b.WriteString(p.e.BlockHash)
	b.WriteByte(' ')
	b.Write(p.e.RawData)
	p.searched = b.String()
	p.hasText = true
	return p.searched
}

func (p *parsedEvent) attributes() map[string]interface{} {
	if p.attrsSet {
		return p.attrs
	}
	p.attrsSet = true
	var m map[string]interface{}
	if len(p.e.RawData) > 0 {
		if err := json.Unmarshal(p.e.RawData, &m); err == nil {
			p.attrs = m
		}
	}
	return p.attrs
}

// Matches evaluates f against e. Predicate order is fixed (chain, block range, time
// range, type, tx/block hash, addresses, text, attribute filters) for deterministic cost,
// and evaluation short-circuits on the first failing predicate.
func Matches(e Event, f Filter) bool {
	return newParsedEvent(e).matches(f)
}

func (p *parsedEvent) matches(f Filter) bool {
	e := p.e

	if len(f.Chains) > 0 && !containsChain(f.Chains, e.Chain) {
		return false
	}

	if len(f.BlockRanges) > 0 && !inAnyBlockRange(f.BlockRanges, e.BlockNumber) {
		return false
	}

	if len(f.TimeRanges) > 0 && !inAnyTimeRange(f.TimeRanges, e.Timestamp) {
		return false
	}

	if len(f.EventTypesInclude) > 0 && !containsString(f.EventTypesInclude, e.EventType) {
		return false
	}
	if len(f.EventTypesExclude) > 0 && containsString(f.EventTypesExclude, e.EventType) {
		return false
	}

	if len(f.TxHashesInclude) > 0 && !containsStringFold(f.TxHashesInclude, e.TxHash) {
		return false
	}
	if len(f.BlockHashesInclude) > 0 && !containsStringFold(f.BlockHashesInclude, e.BlockHash) {
		return false
	}

	if len(f.AddressesInclude) > 0 || len(f.AddressesExclude) > 0 {
		if !p.addressMatch(f) {
			return false
		}
	}

	if f.Text != nil && !p.textMatches(*f.Text) {
		return false
	}

	for _, af := range f.Attributes {
		if !p.attributeMatches(AttributeFilter{Key: af.Key, Operator: OpEquals, Value: af.Value}) {
			return false
		}
	}
	for _, af := range f.Advanced {
		if !p.attributeMatches(af) {
			return false
		}
	}

	return true
}

func (p *parsedEvent) addressMatch(f Filter) bool {
	attrs := p.attributes()
	found := map[string]bool{}
	for _, k := range []string{"address", "from", "to", "sender", "recipient", "contract"} {
		if v, ok := attrs[k]; ok {
			if s, ok := v.(string); ok {
				found[strings.ToLower(s)] = true
			}
		}
	}
	if len(f.AddressesInclude) > 0 {
		ok := false
		for _, a := range f.AddressesInclude {
			if found[strings.ToLower(a)] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.AddressesExclude) > 0 {
		for _, a := range f.AddressesExclude {
			if found[strings.ToLower(a)] {
				return false
			}
		}
	}
	return true
}

func (p *parsedEvent) attributeMatches(af AttributeFilter) bool {
	attrs := p.attributes()
	v, exists := attrs[af.Key]

	switch af.Operator {
	case OpExists:
		return exists
	case OpNotExists:
		return !exists
	}
	if !exists {
		// Every remaining operator requires the key to exist.
		return false
	}

	switch af.Operator {
	case OpEquals:
		return valueEquals(v, af.Value)
	case OpNotEquals:
		return !valueEquals(v, af.Value)
	case OpContains:
		return strings.Contains(toStringValue(v), toStringValue(af.Value))
	case OpNotContains:
		return !strings.Contains(toStringValue(v), toStringValue(af.Value))
	case OpStartsWith:
		return strings.HasPrefix(toStringValue(v), toStringValue(af.Value))
	case OpEndsWith:
		return strings.HasSuffix(toStringValue(v), toStringValue(af.Value))
	case OpGt, OpGe, OpLt, OpLe:
		fv, ok1 := toFloat(v)
		fc, ok2 := toFloat(af.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch af.Operator {
		case OpGt:
			return fv > fc
		case OpGe:
			return fv >= fc
		case OpLt:
			return fv < fc
		case OpLe:
			return fv <= fc
		}
	case OpIn:
		return valueIn(v, af.Value)
	case OpNotIn:
		return !valueIn(v, af.Value)
	case OpRegex:
		re, err := regexp.Compile(toStringValue(af.Value))
		if err != nil {
			return false // invalid regex never matches, not an error (§4.1)
		}
		return re.MatchString(toStringValue(v))
	}
	return false
}

func (p *parsedEvent) textMatches(q TextQuery) bool {
	haystack := p.searchableText()
	needle := q.Query
	if !q.CaseSensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}

	switch q.Mode {
	case TextContains, "":
		return strings.Contains(haystack, needle)
	case TextPhrase:
		return strings.Contains(haystack, needle)
	case TextFullText:
		for _, tok := range strings.Fields(needle) {
			if !strings.Contains(haystack, tok) {
				return false
			}
		}
		return true
	case TextFuzzy:
		tokens := strings.Fields(haystack)
		for _, tok := range tokens {
			if Levenshtein(tok, needle) <= q.MaxDistance {
				return true
			}
		}
		return false
	case TextRegex:
		re, err := regexp.Compile(q.Query)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	case TextBoolean:
		return evalBooleanQuery(haystack, needle)
	default:
		return strings.Contains(haystack, needle)
	}
}

// evalBooleanQuery parses "and"/"or"/"not" tokens with left-to-right precedence:
// "A and B" => both contained; "A or B" => either; a leading "not X" => X absent.
func evalBooleanQuery(haystack, query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return true
	}
	if strings.EqualFold(fields[0], "not") && len(fields) > 1 {
		rest := strings.Join(fields[1:], " ")
		return !strings.Contains(haystack, rest)
	}

	// Find a top-level "and"/"or" token (case-folded) to split on.
	for i, tok := range fields {
		if strings.EqualFold(tok, "and") {
			left := strings.Join(fields[:i], " ")
			right := strings.Join(fields[i+1:], " ")
			return strings.Contains(haystack, left) && evalBooleanQuery(haystack, right)
		}
		if strings.EqualFold(tok, "or") {
			left := strings.Join(fields[:i], " ")
			right := strings.Join(fields[i+1:], " ")
			return strings.Contains(haystack, left) || evalBooleanQuery(haystack, right)
		}
	}
	return strings.Contains(haystack, query)
}

func containsChain(set []ChainID, v ChainID) bool {
	for _, c := range set {
		if c == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsStringFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func inAnyBlockRange(ranges []BlockRange, n uint64) bool {
	for _, r := range ranges {
		if r.Start > r.End {
			continue // contradictory range never matches, no error
		}
		if n >= r.Start && n <= r.End {
			return true
		}
	}
	return false
}

func inAnyTimeRange(ranges []TimeRange, t time.Time) bool {
	for _, r := range ranges {
		if r.Start.After(r.End) {
			continue // contradictory range never matches, no error
		}
		if !t.Before(r.Start) && !t.After(r.End) {
			return true
		}
	}
	return false
}

func valueEquals(a, b interface{}) bool {
	return toStringValue(a) == toStringValue(b)
}

func valueIn(v interface{}, set interface{}) bool {
	items, ok := set.([]interface{})
	if !ok {
		if strs, ok2 := set.([]string); ok2 {
			for _, s := range strs {
				if toStringValue(v) == s {
					return true
				}
			}
		}
		return false
	}
	for _, it := range items {
		if valueEquals(v, it) {
			return true
		}
	}
	return false
}

func toStringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
