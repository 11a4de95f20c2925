package prompt

import "testing"

func TestCompileAndRender(t *testing.T) {
	tpl, err := Compile("test.system", "You are {{.assistant_name}}.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := tpl.Render(map[string]any{"assistant_name": "Dr. M."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "You are Dr. M.." {
		t.Errorf("unexpected render: %q", out)
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("test.bad", "{{ .unterminated")
	if err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestRender_MissingKeyErrors(t *testing.T) {
	tpl, err := Compile("test.strict", "{{.missing}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tpl.Render(map[string]any{}); err == nil {
		t.Fatal("expected error for missing key under missingkey=error")
	}
}
