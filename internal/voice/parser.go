// Package voice parses composite voice expressions such as "af_heart+af_bella(0.3)"
// and resolves them against the voices the backend can load.
package voice

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/book-expert/tts-stream-service/internal/core"
)

// Operators joining the terms of an expression.
const (
	OpAdd      = "+"
	OpSubtract = "-"
	operators  = OpAdd + OpSubtract
)

// Error messages surfaced to API clients.
const (
	msgEmptyVoice        = "Voice cannot be empty"
	msgEmptyCombineItems = "Voice combination contains empty combine items"
	msgTooManyWeights    = "Voice '%s' contains too many weight items"
	msgInvalidWeight     = "Voice '%s' has an invalid weight"
	msgListItemInvalid   = "Voice list item '%s' must be a bare voice name"
	msgVoiceNotFound     = "Voice '%s' not found. Available voices: %s"
)

var (
	errSpecShape = errors.New("voice must be a string or an array of strings")

	repeatedOperators = regexp.MustCompile(`[+-]{2,}`)
	operatorSplit     = regexp.MustCompile(`[+-]`)
)

// Spec is a voice request as sent by a client: a single expression string or an
// ordered list of voice names to be summed.
type Spec struct {
	Expr   string
	List   []string
	isList bool
}

// FromString builds a string-form Spec.
func FromString(expr string) Spec {
	return Spec{Expr: expr, List: nil, isList: false}
}

// FromList builds a list-form Spec.
func FromList(names ...string) Spec {
	return Spec{Expr: "", List: names, isList: true}
}

// IsList reports whether the spec was given in list form.
func (s Spec) IsList() bool {
	return s.isList
}

// IsZero reports whether no voice was supplied at all.
func (s Spec) IsZero() bool {
	return !s.isList && s.Expr == ""
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var expr string

	err := json.Unmarshal(data, &expr)
	if err == nil {
		*s = FromString(expr)

		return nil
	}

	var list []string

	listErr := json.Unmarshal(data, &list)
	if listErr != nil {
		return errSpecShape
	}

	*s = FromList(list...)

	return nil
}

// MarshalJSON writes the spec back in the form it was given.
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.isList {
		return json.Marshal(s.List)
	}

	return json.Marshal(s.Expr)
}

// Term is one voice of an expression together with the operator that joins it
// to the previous term. The first term has no operator.
type Term struct {
	Operator string
	Voice    string
	Weight   string
}

// Expression is a validated voice expression. It is immutable once parsed.
type Expression struct {
	terms []Term
}

// Terms returns a copy of the expression's terms.
func (e Expression) Terms() []Term {
	return slices.Clone(e.terms)
}

// Voices returns the resolved voice names in order.
func (e Expression) Voices() []string {
	names := make([]string, 0, len(e.terms))
	for _, term := range e.terms {
		names = append(names, term.Voice)
	}

	return names
}

// String returns the canonical expression understood by the backend.
func (e Expression) String() string {
	var builder strings.Builder

	for _, term := range e.terms {
		builder.WriteString(term.Operator)
		builder.WriteString(term.Voice)

		if term.Weight != "" {
			builder.WriteString("(")
			builder.WriteString(term.Weight)
			builder.WriteString(")")
		}
	}

	return builder.String()
}

// Parse validates spec against the known voices, mapping names through aliases
// first. It performs no I/O.
func Parse(spec Spec, known []string, aliases *AliasTable) (Expression, error) {
	var (
		raw []Term
		err error
	)

	if spec.isList {
		raw, err = splitList(spec.List)
	} else {
		raw, err = splitString(spec.Expr)
	}

	if err != nil {
		return Expression{}, err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, name := range known {
		knownSet[name] = struct{}{}
	}

	terms := make([]Term, 0, len(raw))

	for _, term := range raw {
		resolved, termErr := resolveTerm(term, knownSet, known, aliases)
		if termErr != nil {
			return Expression{}, termErr
		}

		terms = append(terms, resolved)
	}

	return Expression{terms: terms}, nil
}

func splitString(expr string) ([]Term, error) {
	compact := strings.Join(strings.Fields(expr), "")
	if compact == "" {
		return nil, core.NewValidationError(core.CodeValidation, msgEmptyVoice)
	}

	if strings.ContainsAny(compact[:1], operators) ||
		strings.ContainsAny(compact[len(compact)-1:], operators) ||
		repeatedOperators.MatchString(compact) {
		return nil, core.NewValidationError(core.CodeValidation, msgEmptyCombineItems)
	}

	names := operatorSplit.Split(compact, -1)
	ops := operatorSplit.FindAllString(compact, -1)
	terms := make([]Term, 0, len(names))

	for index, name := range names {
		operator := ""
		if index > 0 {
			operator = ops[index-1]
		}

		terms = append(terms, Term{Operator: operator, Voice: name, Weight: ""})
	}

	return terms, nil
}

func splitList(names []string) ([]Term, error) {
	if len(names) == 0 {
		return nil, core.NewValidationError(core.CodeValidation, msgEmptyVoice)
	}

	terms := make([]Term, 0, len(names))

	for index, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, core.NewValidationError(core.CodeValidation, msgEmptyCombineItems)
		}

		if strings.ContainsAny(trimmed, operators+"()") {
			return nil, core.NewValidationError(core.CodeValidation, msgListItemInvalid, trimmed)
		}

		operator := ""
		if index > 0 {
			operator = OpAdd
		}

		terms = append(terms, Term{Operator: operator, Voice: trimmed, Weight: ""})
	}

	return terms, nil
}

// resolveTerm splits an optional weight suffix off the term, maps the voice name
// through the alias table and checks it exists.
func resolveTerm(term Term, knownSet map[string]struct{}, known []string, aliases *AliasTable) (Term, error) {
	parts := strings.Split(term.Voice, "(")
	if len(parts) > 2 || strings.Count(term.Voice, ")") > 1 {
		return Term{}, core.NewValidationError(core.CodeValidation, msgTooManyWeights, term.Voice)
	}

	name := strings.TrimSpace(parts[0])
	weight := ""

	if len(parts) == 2 {
		parsed, ok := parseWeight(parts[1])
		if !ok {
			return Term{}, core.NewValidationError(core.CodeValidation, msgInvalidWeight, term.Voice)
		}

		weight = parsed
	} else if strings.Contains(name, ")") {
		return Term{}, core.NewValidationError(core.CodeValidation, msgInvalidWeight, term.Voice)
	}

	name = aliases.Voice(name)

	if _, ok := knownSet[name]; !ok {
		sorted := slices.Clone(known)
		slices.Sort(sorted)

		return Term{}, core.NewValidationError(
			core.CodeValidation, msgVoiceNotFound, name, strings.Join(sorted, ", "),
		)
	}

	return Term{Operator: term.Operator, Voice: name, Weight: weight}, nil
}

// parseWeight accepts "0.7)" and returns "0.7".
func parseWeight(suffix string) (string, bool) {
	body, found := strings.CutSuffix(strings.TrimSpace(suffix), ")")
	if !found {
		return "", false
	}

	body = strings.TrimSpace(body)

	value, err := strconv.ParseFloat(body, 64)
	if err != nil || value <= 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return "", false
	}

	return body, true
}
