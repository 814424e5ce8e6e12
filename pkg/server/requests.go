package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/orneryd/rulechain/pkg/rules"
	"github.com/orneryd/rulechain/pkg/storage"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate checks request envelopes. Rule contents are checked afterwards by
// rules.Build, which knows about duplicate ids and self references.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names, not Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("rulebook", validateRulebookName)
}

// validateRulebookName accepts names usable as storage keys.
func validateRulebookName(fl validator.FieldLevel) bool {
	return storage.ValidateName(fl.Field().String()) == nil
}

// =============================================================================
// Request Types
// =============================================================================

// RuleSource names the rules of a call: inline records or a stored rulebook,
// exactly one of the two.
type RuleSource struct {
	Rules    []rules.Record `json:"rules,omitempty" validate:"required_without=Rulebook,excluded_with=Rulebook"`
	Rulebook string         `json:"rulebook,omitempty" validate:"omitempty,rulebook"`
}

// InferenceRequest is the body of the forward, backward and trace endpoints.
type InferenceRequest struct {
	RuleSource
	InitialFacts []string `json:"initial_facts" validate:"dive,max=256"`
	Goals        []string `json:"goals" validate:"required,min=1,dive,max=256"`
}

// GraphRequest is the body of the graph endpoints. TargetGoals only affects
// node tags of the FPG.
type GraphRequest struct {
	RuleSource
	InitialFacts []string `json:"initial_facts" validate:"dive,max=256"`
	TargetGoals  []string `json:"target_goals" validate:"dive,max=256"`
	LayoutMethod string   `json:"layout_method,omitempty" validate:"omitempty,oneof=improved_hierarchical kamada_kawai spring circular shell"`
}

// AnalyzeRequest runs every engine and both graphs over one rule set.
type AnalyzeRequest struct {
	InferenceRequest
	LayoutMethod string `json:"layout_method,omitempty" validate:"omitempty,oneof=improved_hierarchical kamada_kawai spring circular shell"`
}

// RulebookRequest stores a named rule set.
type RulebookRequest struct {
	Name        string         `json:"name" validate:"required,rulebook"`
	Description string         `json:"description,omitempty" validate:"max=1024"`
	Rules       []rules.Record `json:"rules" validate:"required,min=1"`
}

// =============================================================================
// Problem Reporting
// =============================================================================

// problemsOf turns a validation or rule-set error into one message per
// problem.
func problemsOf(err error) []string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, describeFieldError(fe))
		}
		return out
	}

	problems := rules.Problems(err)
	out := make([]string, 0, len(problems))
	for _, p := range problems {
		out = append(out, p.Error())
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "required_without":
		return field + ": is required when rulebook is not given"
	case "excluded_with":
		return field + ": cannot be combined with rulebook"
	case "min":
		return fmt.Sprintf("%s: needs at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s long", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "rulebook":
		return fmt.Sprintf("%s: %q is not a valid rulebook name", field, fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}
