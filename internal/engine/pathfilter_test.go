package engine

import "testing"

func TestPathFilter_OnlyExcludedPaths(t *testing.T) {
	f := NewPathFilter([]string{"docs/**", "*.md"})

	// Изменение только в исключённых путях — run не создаётся
	if f.ShouldRun([]string{"docs/intro.md", "README.md"}) {
		t.Error("change touching only excluded paths must not create a run")
	}

	// Хотя бы один не исключённый путь — run создаётся
	if !f.ShouldRun([]string{"docs/intro.md", "src/main.rs"}) {
		t.Error("non-excluded path must create a run")
	}
}

func TestPathFilter_Negation(t *testing.T) {
	f := NewPathFilter([]string{"docs/**", "!docs/build.md"})

	// Негированный паттерн принудительно возвращает путь
	if !f.ShouldRun([]string{"docs/build.md"}) {
		t.Error("negated pattern must force-include the path")
	}

	if f.ShouldRun([]string{"docs/other.md"}) {
		t.Error("non-negated docs path should stay excluded")
	}
}

func TestPathFilter_EmptyChanges(t *testing.T) {
	// manual/schedule триггеры без diff всегда проходят
	f := NewPathFilter([]string{"**"})
	if !f.ShouldRun(nil) {
		t.Error("empty change list should pass")
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"docs/**", "docs/a/b/c.md", true},
		{"docs/**", "docs", false},
		{"**/test/*.go", "a/b/test/x.go", true},
		{"**/test/*.go", "test/x.go", true},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
		{"src/*.rs", "src/lib.rs", true},
		{"src/*.rs", "src/sub/lib.rs", false},
		{"**", "anything/at/all", true},
	}

	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{
		"branch":          "main",
		"matrix.features": "none",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"${branch}-cargo", "main-cargo"},
		{"cargo check --features ${matrix.features}", "cargo check --features none"},
		// shell-переменные не трогаем
		{"echo ${HOME} $PATH", "echo ${HOME} $PATH"},
		{"plain", "plain"},
		{"${unclosed", "${unclosed"},
	}

	for _, tt := range tests {
		if got := Expand(tt.in, vars); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
