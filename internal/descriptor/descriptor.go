// Package descriptor parses and validates app and resource-group
// descriptors. Validation runs a JSON schema over the document and then
// struct rules over the decoded value; every problem found is reported.
package descriptor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"pmp/internal/domain"
)

var (
	//go:embed schema/app.schema.json
	appSchemaJSON []byte
	//go:embed schema/resourcegroup.schema.json
	resourceGroupSchemaJSON []byte
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("identifier", validateIdentifier)
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

var (
	schemasOnce         sync.Once
	appSchema           *jsonschema.Schema
	resourceGroupSchema *jsonschema.Schema
	schemasErr          error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		appSchema, schemasErr = jsonschema.NewCompiler().Compile(appSchemaJSON)
		if schemasErr != nil {
			schemasErr = fmt.Errorf("compile app schema: %w", schemasErr)
			return
		}
		resourceGroupSchema, schemasErr = jsonschema.NewCompiler().Compile(resourceGroupSchemaJSON)
		if schemasErr != nil {
			schemasErr = fmt.Errorf("compile resource group schema: %w", schemasErr)
		}
	})
	return appSchema, resourceGroupSchema, schemasErr
}

// Issue is one validation problem.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// JoinIssues renders issues as one reason string.
func JoinIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, ", ")
}

// ParseApp decodes an app descriptor from YAML.
func ParseApp(data []byte) (domain.AppDescriptor, error) {
	var d domain.AppDescriptor
	if err := decode(data, &d); err != nil {
		return domain.AppDescriptor{}, domain.NewDomainError("descriptor.ParseApp", domain.ErrInvalidDescriptor, err.Error())
	}
	return d, nil
}

// ParseResourceGroup decodes a resource-group descriptor from YAML.
func ParseResourceGroup(data []byte) (domain.ResourceGroupDescriptor, error) {
	var d domain.ResourceGroupDescriptor
	if err := decode(data, &d); err != nil {
		return domain.ResourceGroupDescriptor{}, domain.NewDomainError("descriptor.ParseResourceGroup", domain.ErrInvalidDescriptor, err.Error())
	}
	return d, nil
}

func decode(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// ValidateApp returns every problem with d; nil means valid.
func ValidateApp(d domain.AppDescriptor) []Issue {
	appS, _, err := schemas()
	if err != nil {
		return []Issue{{Message: err.Error()}}
	}
	issues := schemaIssues(appS, d)
	issues = append(issues, structIssues(d)...)

	seen := make(map[string]bool)
	for _, sf := range d.ServiceFeatures {
		if seen[sf.Identifier] {
			issues = append(issues, Issue{Field: "service_features", Message: fmt.Sprintf("duplicate service feature %q", sf.Identifier)})
		}
		seen[sf.Identifier] = true
	}
	return issues
}

// ValidateResourceGroup returns every problem with d; nil means valid.
func ValidateResourceGroup(d domain.ResourceGroupDescriptor) []Issue {
	_, rgS, err := schemas()
	if err != nil {
		return []Issue{{Message: err.Error()}}
	}
	if d.PrivacySettings == nil {
		d.PrivacySettings = []domain.PrivacySettingDescriptor{}
	}
	issues := schemaIssues(rgS, d)
	issues = append(issues, structIssues(d)...)

	seen := make(map[string]bool)
	for _, ps := range d.PrivacySettings {
		if seen[ps.Identifier] {
			issues = append(issues, Issue{Field: "privacy_settings", Message: fmt.Sprintf("duplicate privacy setting %q", ps.Identifier)})
		}
		seen[ps.Identifier] = true
	}
	return issues
}

func schemaIssues(schema *jsonschema.Schema, v any) []Issue {
	raw, err := json.Marshal(v)
	if err != nil {
		return []Issue{{Message: fmt.Sprintf("encode descriptor: %v", err)}}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Issue{{Message: fmt.Sprintf("decode descriptor: %v", err)}}
	}
	result := schema.Validate(doc)
	if result.IsValid() {
		return nil
	}
	return []Issue{{Message: fmt.Sprintf("schema: %s", result.Error())}}
}

func structIssues(v any) []Issue {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{Field: trimRoot(fe.Namespace()), Message: ruleMessage(fe)})
	}
	return issues
}

// trimRoot drops the struct type prefix from a validator namespace.
func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "identifier":
		return fmt.Sprintf("%q is not a valid identifier", fe.Value())
	case "url":
		return fmt.Sprintf("%q is not a URL", fe.Value())
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed rule %q", fe.Tag())
	}
}
