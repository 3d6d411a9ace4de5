package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer derives default database and relation names from model names.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// TableName returns the default table for a model name.
// Example: "PostCategory" -> "post_categories", "Person" -> "people"
func (n *Namer) TableName(modelName string) string {
	snake := ToSnakeCase(modelName)
	if snake == "" {
		return ""
	}
	parts := strings.Split(snake, "_")
	parts[len(parts)-1] = n.Pluralize(parts[len(parts)-1])
	return strings.Join(parts, "_")
}

// ReverseFieldName returns the default name of the reverse side of a relation
// declared on ownerModel.
// Example: "Post" -> "posts"
func (n *Namer) ReverseFieldName(ownerModel string) string {
	return n.Pluralize(strings.ToLower(ownerModel))
}

// ThroughFieldName returns the name under which a through model is reachable
// from both sides of its many-to-many relation.
// Example: "PostCategory" -> "postcategory"
func (n *Namer) ThroughFieldName(throughModel string) string {
	return strings.ToLower(throughModel)
}

// ThroughForeignKeyNames returns the names of the two implicit foreign keys a
// through model carries. Self-referential relations get from_/to_ prefixes so
// the two keys stay distinct.
func (n *Namer) ThroughForeignKeyNames(ownerModel, targetModel string) (string, string) {
	owner := strings.ToLower(ownerModel)
	target := strings.ToLower(targetModel)
	if owner == target {
		n.logger.Debug("self-referential many-to-many, prefixing through keys",
			slog.String("model", ownerModel),
		)
		return "from_" + owner, "to_" + target
	}
	return owner, target
}

// ToSnakeCase converts CamelCase to snake_case.
// Example: "PostCategory" -> "post_category", "HTTPServer" -> "http_server"
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
