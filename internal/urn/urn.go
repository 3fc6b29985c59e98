// Package urn implements the ckp:// naming grammar: plain entity URNs, edge
// URNs, and the two query URN variants, plus the validator used in both
// "accept" (warn on invalid, for trusted sources) and "enforce" (reject
// invalid, for externally-supplied input) modes.
package urn

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"ckcore/internal/ckerrors"
)

const scheme = "ckp://"

// edgeSeparator partitions an edge URN's source and target segments. Per the
// grammar, neither the source nor the target may itself contain it.
const edgeSeparator = "-to-"

var (
	segmentRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	versionRe   = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)
	predicateRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// Kind identifies which of the three URN shapes was parsed.
type Kind int

const (
	KindPlain Kind = iota
	KindEdge
	KindQueryV1
	KindQueryV2
)

// Parsed is a plain-entity URN: ckp://Segment.Segment...[:vX.Y.Z]
type Parsed struct {
	Segments []string
	Version  string // empty if versionless
}

// String renders the canonical form.
func (p Parsed) String() string {
	s := scheme + strings.Join(p.Segments, ".")
	if p.Version != "" {
		s += ":" + p.Version
	}
	return s
}

// Name is the dotted entity name without scheme or version, e.g. "System.Worker".
func (p Parsed) Name() string { return strings.Join(p.Segments, ".") }

// ParsedEdge is an edge URN: ckp://Edge.PREDICATE.Source-to-Target[:vX.Y.Z]
type ParsedEdge struct {
	Predicate string
	Source    string
	Target    string
	Version   string
}

// String renders the canonical edge form.
func (e ParsedEdge) String() string {
	s := scheme + "Edge." + e.Predicate + "." + e.Source + edgeSeparator + e.Target
	if e.Version != "" {
		s += ":" + e.Version
	}
	return s
}

// ParsedQuery is the v1 query form: ckp://?key=value&key2=value2 (flat).
type ParsedQuery struct {
	Params map[string]string
}

// ParsedQueryV2 is the v2 query form with nested bracketed params:
// ckp://?filter[unit]=X&sort=-version
type ParsedQueryV2 struct {
	Filter map[string]string
	Params map[string]string // non-filter top-level params (e.g. "sort")
}

// Resolver parses and serializes URNs of all three shapes.
type Resolver struct{}

// Parse dispatches to the right shape based on the body's structure. Tie-break
// per spec: when the URN matches both plain and edge shape, edge wins if the
// first segment equals "Edge".
func (Resolver) Parse(s string) (interface{}, Kind, error) {
	body, ok := strings.CutPrefix(s, scheme)
	if !ok {
		return nil, 0, ckerrors.Newf(ckerrors.CodeInvalidUrnFormat, s, "missing ckp:// scheme")
	}

	if strings.HasPrefix(body, "?") {
		if strings.Contains(body, "[") {
			q, err := parseQueryV2(body[1:])
			return q, KindQueryV2, err
		}
		q, err := parseQueryV1(body[1:])
		return q, KindQueryV1, err
	}

	if strings.HasPrefix(body, "Edge.") {
		e, err := ParseEdge(s)
		return e, KindEdge, err
	}

	p, err := parsePlain(body)
	return p, KindPlain, err
}

// ParsePlain parses a plain entity URN.
func ParsePlain(s string) (Parsed, error) {
	body, ok := strings.CutPrefix(s, scheme)
	if !ok {
		return Parsed{}, ckerrors.Newf(ckerrors.CodeInvalidUrnFormat, s, "missing ckp:// scheme")
	}
	return parsePlain(body)
}

func parsePlain(body string) (Parsed, error) {
	versionless, version, err := splitVersion(body)
	if err != nil {
		return Parsed{}, err
	}
	if versionless == "" {
		return Parsed{}, ckerrors.Newf(ckerrors.CodeUrnParse, body, "empty entity path")
	}
	segments := strings.Split(versionless, ".")
	for _, seg := range segments {
		if !segmentRe.MatchString(seg) {
			return Parsed{}, ckerrors.Newf(ckerrors.CodeUrnParse, body, "invalid segment %q", seg)
		}
	}
	return Parsed{Segments: segments, Version: version}, nil
}

// ParseEdge parses an edge URN: ckp://Edge.PREDICATE.Source-to-Target[:version]
func ParseEdge(s string) (ParsedEdge, error) {
	body, ok := strings.CutPrefix(s, scheme)
	if !ok {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "missing ckp:// scheme")
	}
	body, ok = strings.CutPrefix(body, "Edge.")
	if !ok {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "edge URN must start with Edge.")
	}

	versionless, version, err := splitVersion(body)
	if err != nil {
		return ParsedEdge{}, err
	}

	dot := strings.Index(versionless, ".")
	if dot < 0 {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "missing predicate separator")
	}
	predicate := versionless[:dot]
	rest := versionless[dot+1:]

	idx := strings.Index(rest, edgeSeparator)
	if idx < 0 {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "missing %q separator", edgeSeparator)
	}
	source := rest[:idx]
	target := rest[idx+len(edgeSeparator):]

	if strings.Contains(source, edgeSeparator) || strings.Contains(target, edgeSeparator) {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "source/target may not contain %q", edgeSeparator)
	}
	if source == "" || target == "" {
		return ParsedEdge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, s, "empty source or target")
	}

	return ParsedEdge{Predicate: predicate, Source: source, Target: target, Version: version}, nil
}

func splitVersion(body string) (rest string, version string, err error) {
	idx := strings.LastIndex(body, ":")
	if idx < 0 {
		return body, "", nil
	}
	candidate := body[idx+1:]
	if !versionRe.MatchString(candidate) {
		// No colon-delimited version; the colon is just part of the body (rare, but
		// be permissive rather than reject on an unrelated colon).
		return body, "", nil
	}
	return body[:idx], candidate, nil
}

func parseQueryV1(raw string) (ParsedQuery, error) {
	params := map[string]string{}
	if raw == "" {
		return ParsedQuery{Params: params}, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return ParsedQuery{}, ckerrors.Newf(ckerrors.CodeUrnParse, raw, "malformed query param %q", pair)
		}
		params[kv[0]] = kv[1]
	}
	return ParsedQuery{Params: params}, nil
}

var bracketRe = regexp.MustCompile(`^([A-Za-z0-9_]+)\[([A-Za-z0-9_]+)\]$`)

func parseQueryV2(raw string) (ParsedQueryV2, error) {
	filter := map[string]string{}
	params := map[string]string{}
	if raw == "" {
		return ParsedQueryV2{Filter: filter, Params: params}, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return ParsedQueryV2{}, ckerrors.Newf(ckerrors.CodeUrnParse, raw, "malformed query param %q", pair)
		}
		if m := bracketRe.FindStringSubmatch(kv[0]); m != nil && m[1] == "filter" {
			filter[m[2]] = kv[1]
			continue
		}
		params[kv[0]] = kv[1]
	}
	return ParsedQueryV2{Filter: filter, Params: params}, nil
}

// Validation is the result returned by Validator methods.
type Validation struct {
	Valid  bool
	Reason string
}

func ok() Validation   { return Validation{Valid: true} }
func bad(reason string) Validation { return Validation{Valid: false, Reason: reason} }

// Mode selects how strict validation is.
type Mode int

const (
	// ModeAccept is used during parsing of trusted sources: invalid input is
	// reported but callers typically warn and continue.
	ModeAccept Mode = iota
	// ModeEnforce is used for externally-supplied input: invalid input must
	// be rejected by the caller.
	ModeEnforce
)

// Validator validates URN strings without caring which Mode the caller is in;
// Mode only changes what the caller does with an invalid Validation.
type Validator struct{}

// Validate validates any of the three URN shapes.
func (Validator) Validate(s string) Validation {
	if !strings.HasPrefix(s, scheme) {
		return bad("missing ckp:// scheme")
	}
	body := s[len(scheme):]

	if strings.HasPrefix(body, "?") {
		if _, err := parseQueryV2(body[1:]); err == nil {
			return ok()
		}
		if _, err := parseQueryV1(body[1:]); err != nil {
			return bad(err.Error())
		}
		return ok()
	}

	// Edge wins the plain/edge tie-break whenever the first segment is Edge.
	if strings.HasPrefix(body, "Edge.") {
		return Validator{}.ValidateEdge(s)
	}

	if _, err := parsePlain(body); err != nil {
		return bad(err.Error())
	}
	return ok()
}

// ValidateEdge validates strictly as an edge URN: predicate uppercase, both
// endpoints plain-URN-valid (as bare dotted paths), version (if present) SemVer.
func (Validator) ValidateEdge(s string) Validation {
	parsed, err := ParseEdge(s)
	if err != nil {
		return bad(err.Error())
	}
	if !predicateRe.MatchString(parsed.Predicate) {
		return bad("predicate must be uppercase with underscores")
	}
	if _, err := parsePlain(scheme + parsed.Source); err != nil {
		return bad("invalid source: " + err.Error())
	}
	if _, err := parsePlain(scheme + parsed.Target); err != nil {
		return bad("invalid target: " + err.Error())
	}
	if parsed.Version != "" && !versionRe.MatchString(parsed.Version) {
		return bad("version must be SemVer vX.Y.Z")
	}
	return ok()
}

// CanonicalCycleKey sorts a set of vertex names into a stable dedup key,
// used by the workflow validator to canonicalize cycles.
func CanonicalCycleKey(vertices []string) string {
	sorted := append([]string(nil), vertices...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// ParseVersion returns the three SemVer components, or ok=false if v is not
// of the form vX.Y.Z.
func ParseVersion(v string) (major, minor, patch int, ok bool) {
	m := versionRe.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	patch, _ = strconv.Atoi(m[3])
	return major, minor, patch, true
}
