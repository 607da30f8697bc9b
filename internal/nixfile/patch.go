package nixfile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Errors reported by the assignment patcher. Zero and multiple matches are
// both rejected: replacing the wrong occurrence would corrupt the file.
var (
	ErrAttributeNotFound  = errors.New("attribute not found")
	ErrAmbiguousAttribute = errors.New("attribute matched more than once")
	ErrNoRevAssignment    = errors.New("no rev or tag assignment found")
)

// Values returns every value assigned to attribute in text, in order of
// appearance. An assignment has the shape `attribute = "value";`.
func Values(attribute, text string) []string {
	re := regexp.MustCompile(regexp.QuoteMeta(attribute) + `\s+=\s+"(.*)";`)
	var values []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		values = append(values, m[1])
	}
	return values
}

// UniqueValue returns the single value assigned to attribute in text.
func UniqueValue(attribute, text string) (string, error) {
	values := Values(attribute, text)
	switch len(values) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrAttributeNotFound, attribute)
	case 1:
		return values[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrAmbiguousAttribute, attribute)
}

// FindAssignment locates the one assignment of attribute in text and
// returns the full matched line and the assigned value. When oldValue is
// non-empty only the assignment carrying exactly that value matches, which
// lets callers target one of several co-located assignments.
func FindAssignment(attribute, text, oldValue string) (line, value string, err error) {
	var re *regexp.Regexp
	if oldValue == "" {
		re = regexp.MustCompile(`(` + regexp.QuoteMeta(attribute) + `\s+=\s+"(.*)";)`)
	} else {
		re = regexp.MustCompile(`(` + regexp.QuoteMeta(attribute) + `\s+=\s+"(` + regexp.QuoteMeta(oldValue) + `)";)`)
	}
	matches := re.FindAllStringSubmatch(text, -1)
	switch len(matches) {
	case 0:
		return "", "", fmt.Errorf("%w: %s", ErrAttributeNotFound, attribute)
	case 1:
		return matches[0][1], matches[0][2], nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrAmbiguousAttribute, attribute)
}

// ReplaceAssignment substitutes newValue into the single assignment of
// attribute, leaving every byte outside the matched line untouched.
func ReplaceAssignment(attribute, newValue, text, oldValue string) (string, error) {
	line, value, err := FindAssignment(attribute, text, oldValue)
	if err != nil {
		return "", err
	}
	newLine := strings.Replace(line, value, newValue, 1)
	return strings.Replace(text, line, newLine, 1), nil
}

// revPattern is deliberately looser than the assignment pattern: rev and
// tag values are frequently interpolated expressions such as "v${version}"
// or bare identifiers, not quoted strings.
var revPattern = regexp.MustCompile(`((?:rev|tag)\s+=\s+[^;]*;)`)

// changelogPattern matches a changelog URL assignment.
var changelogPattern = regexp.MustCompile(`changelog = "[^"]+";`)

// changelogRefPattern matches version or rev interpolations inside a
// changelog URL, including an optional literal v prefix.
var changelogRefPattern = regexp.MustCompile(`v?\$\{(version|src\.rev)\}`)

// RewriteRevision force-rewrites the first rev/tag assignment to the
// templated form `tag = "<prefix>${version}";`. Tagging conventions can
// change between releases, so the previous value is always overwritten.
// Without a prefix the quoting is dropped entirely, giving `tag = version;`.
func RewriteRevision(text, prefix string) (string, error) {
	match := revPattern.FindString(text)
	if match == "" {
		return "", ErrNoRevAssignment
	}
	text = strings.ReplaceAll(text, match, fmt.Sprintf("tag = \"%s${version}\";", prefix))
	text = strings.ReplaceAll(text, `"${version}";`, "version;")
	return text, nil
}

// RewriteChangelog points a changelog URL at the newly pinned tag by
// replacing version or rev interpolations with ${src.tag}. Definitions
// without a changelog are returned unchanged.
func RewriteChangelog(text string) string {
	old := changelogPattern.FindString(text)
	if old == "" {
		return text
	}
	updated := changelogRefPattern.ReplaceAllLiteralString(old, "${src.tag}")
	return strings.Replace(text, old, updated, 1)
}
