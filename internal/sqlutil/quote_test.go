package sqlutil

import "testing"

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"user_data", "`user_data`"},
		{"select", "`select`"},           // reserved word
		{"first name", "`first name`"},   // space in name
		{"user`data", "`user``data`"},    // backtick in name
		{"a`b`c", "`a``b``c`"},           // multiple backticks
		{"", "``"},                        // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQualifyColumn(t *testing.T) {
	if got := QualifyColumn("blog_1", "name"); got != "`blog_1`.`name`" {
		t.Errorf("QualifyColumn = %q", got)
	}
	if got := QualifyColumn("", "name"); got != "`name`" {
		t.Errorf("QualifyColumn without alias = %q", got)
	}
}

func TestTableAs(t *testing.T) {
	if got := TableAs("posts", "posts"); got != "`posts`" {
		t.Errorf("TableAs same alias = %q", got)
	}
	if got := TableAs("people", "supervisor_1"); got != "`people` AS `supervisor_1`" {
		t.Errorf("TableAs = %q", got)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := EscapeLike(tt.input); got != tt.expected {
				t.Errorf("EscapeLike(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
