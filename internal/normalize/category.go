package normalize

import "strings"

// Category is the fixed taxonomy used to partition knowledge entries.
// Partitioning bounds similarity-search scope: lookups only scan the
// category the error classified into.
type Category string

const (
	CategoryDependency       Category = "dependency"
	CategorySyntax           Category = "syntax"
	CategoryModuleSystem     Category = "module-system"
	CategoryReference        Category = "reference"
	CategoryExternalResource Category = "external-resource"
	CategoryOther            Category = "other"
)

// Categories lists every category in the taxonomy.
func Categories() []Category {
	return []Category{
		CategoryDependency,
		CategorySyntax,
		CategoryModuleSystem,
		CategoryReference,
		CategoryExternalResource,
		CategoryOther,
	}
}

// categoryRule maps an error-text keyword to a category. Rules are checked
// in order; the first match wins.
type categoryRule struct {
	keyword  string
	category Category
}

var categoryRules = []categoryRule{
	{"cannot resolve module", CategoryDependency},
	{"module not found", CategoryDependency},
	{"cannot find module", CategoryDependency},
	{"cannot find package", CategoryDependency},
	{"no matching version", CategoryDependency},
	{"npm err", CategoryDependency},
	{"unexpected token", CategorySyntax},
	{"syntax error", CategorySyntax},
	{"syntaxerror", CategorySyntax},
	{"unexpected end of", CategorySyntax},
	{"parse error", CategorySyntax},
	{"unexpected identifier", CategorySyntax},
	{"require is not defined", CategoryModuleSystem},
	{"cannot use import statement", CategoryModuleSystem},
	{"exports is not defined", CategoryModuleSystem},
	{"must use import to load", CategoryModuleSystem},
	{"is not defined", CategoryReference},
	{"is not a function", CategoryReference},
	{"undefined reference", CategoryReference},
	{"undefined", CategoryReference},
	{"cannot read propert", CategoryReference},
	{"null reference", CategoryReference},
	{"econnrefused", CategoryExternalResource},
	{"connection refused", CategoryExternalResource},
	{"etimedout", CategoryExternalResource},
	{"enotfound", CategoryExternalResource},
	{"fetch failed", CategoryExternalResource},
	{"<n> not found", CategoryExternalResource}, // 404 after normalization
	{"network error", CategoryExternalResource},
}

// Classify maps raw error text onto the category taxonomy. Classification
// runs over the normalized signature so that volatile detail never moves an
// error between categories.
func Classify(raw string) Category {
	sig := Signature(raw)
	for _, rule := range categoryRules {
		if strings.Contains(sig, rule.keyword) {
			return rule.category
		}
	}
	return CategoryOther
}

// Valid reports whether c is part of the taxonomy.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}
