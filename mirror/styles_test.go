package mirror

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStyle(t *testing.T) {
	s := ParseStyle("Color: red; margin: 0 !important; color: blue")
	want := []Property{
		{Name: "color", Value: "red"},
		{Name: "margin", Value: "0", Important: true},
		{Name: "color", Value: "blue"},
	}
	if diff := cmp.Diff(want, s.Properties); diff != "" {
		t.Fatalf("properties (-want +got):\n%s", diff)
	}
	if got := s.PropertyValue("COLOR"); got != "blue" {
		t.Fatalf("color: got %q, want last declaration", got)
	}
	if !s.IsImportant("margin") || s.IsImportant("color") {
		t.Fatal("important flags wrong")
	}
	if s.CSSText != "Color: red; margin: 0 !important; color: blue" {
		t.Fatal("css text not kept verbatim")
	}
}

func TestParseStyle_Empty(t *testing.T) {
	s := ParseStyle("  ")
	if len(s.Properties) != 0 || s.PropertyValue("x") != "" {
		t.Fatalf("got %+v", s)
	}
	var nilStyle *Style
	if nilStyle.PropertyValue("x") != "" || nilStyle.IsImportant("x") {
		t.Fatal("nil style not empty")
	}
}
