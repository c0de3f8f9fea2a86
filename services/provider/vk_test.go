package provider

import "testing"

func TestExtractVKUsername(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain profile", "https://vk.com/ivan_petrov", "ivan_petrov"},
		{"mobile host", "https://m.vk.com/id123456", "id123456"},
		{"no scheme", "vk.com/durov", "durov"},
		{"service page", "https://vk.com/wall", ""},
		{"not vk", "https://example.com/ivan", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractVKUsername(tt.input); got != tt.want {
				t.Fatalf("ExtractVKUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGuessNameFromUsername(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"underscore pair", "ivan_petrov", "Ivan Petrov"},
		{"dot pair", "anna.smirnova", "Anna Smirnova"},
		{"numeric id", "id123456", ""},
		{"club id", "club42", ""},
		{"single word", "durov", ""},
		{"short fragments dropped", "a_b", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GuessNameFromUsername(tt.input); got != tt.want {
				t.Fatalf("GuessNameFromUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
