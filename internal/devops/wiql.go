package devops

import "strings"

// SelectorOptions shape the default WIQL used when the caller does not
// supply an explicit query.
type SelectorOptions struct {
	AreaPath string
	// ExcludeTag removes items already carrying the migration marker tag.
	// Empty disables the exclusion.
	ExcludeTag string
}

// DefaultWIQL builds the default item selector, ordered by ascending id
// so migration order is deterministic.
func DefaultWIQL(options SelectorOptions) string {
	var builder strings.Builder
	builder.WriteString("SELECT [System.Id], [System.Title] FROM WorkItems")

	predicates := make([]string, 0, 2)
	if area := strings.TrimSpace(options.AreaPath); area != "" {
		predicates = append(predicates, "[System.AreaPath] UNDER '"+escapeWIQLString(area)+"'")
	}
	if tag := strings.TrimSpace(options.ExcludeTag); tag != "" {
		predicates = append(predicates, "NOT [System.Tags] CONTAINS '"+escapeWIQLString(tag)+"'")
	}

	if len(predicates) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(predicates, " AND "))
	}

	builder.WriteString(" ORDER BY [System.Id] ASC")
	return builder.String()
}

func escapeWIQLString(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
