package foreman

import (
	"errors"
	"testing"
)

func sigWorld(t *testing.T) (*World, EntityID, EntityID, EntityID) {
	t.Helper()
	w := Factory.NewWorld()
	position := w.NewComponent("Position", 8)
	velocity := w.NewComponent("Velocity", 8)
	acceleration := w.NewComponent("Acceleration", 8)
	return w, position, velocity, acceleration
}

func TestParseSignature(t *testing.T) {
	w, position, velocity, acceleration := sigWorld(t)
	defer w.Fini()
	camera := w.NewNamedEntity("Camera")

	tests := []struct {
		name string
		sig  string
		want []sigColumn
	}{
		{
			"single column",
			"Position",
			[]sigColumn{{kind: fromSelf, oper: operAnd, component: position}},
		},
		{
			"multiple columns with spaces",
			"Position, Velocity",
			[]sigColumn{
				{kind: fromSelf, oper: operAnd, component: position},
				{kind: fromSelf, oper: operAnd, component: velocity},
			},
		},
		{
			"not operator",
			"Position, !Velocity",
			[]sigColumn{
				{kind: fromSelf, oper: operAnd, component: position},
				{kind: fromSelf, oper: operNot, component: velocity},
			},
		},
		{
			"optional operator",
			"?Acceleration",
			[]sigColumn{{kind: fromSelf, oper: operOptional, component: acceleration}},
		},
		{
			"entity source",
			"Camera.Position",
			[]sigColumn{{kind: fromEntity, oper: operAnd, component: position, source: camera}},
		},
		{
			"singleton source",
			"$.Position",
			[]sigColumn{{kind: fromSingleton, oper: operAnd, component: position}},
		},
		{
			"container source",
			"CONTAINER.Position",
			[]sigColumn{{kind: fromContainer, oper: operAnd, component: position}},
		},
		{
			"system source",
			"SYSTEM.Position",
			[]sigColumn{{kind: fromSystem, oper: operAnd, component: position}},
		},
		{
			"id source",
			"ID.Position",
			[]sigColumn{{kind: fromID, oper: operAnd, component: position}},
		},
		{"empty signature", "0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSignature(w, tt.sig)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("column count = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("column %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestParseOrCollapse checks that adjacent OR elements collapse into a single
// column targeting the union's type id.
func TestParseOrCollapse(t *testing.T) {
	w, _, velocity, acceleration := sigWorld(t)
	defer w.Fini()

	cols, err := parseSignature(w, "Position, Velocity|Acceleration")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("column count = %d, want 2", len(cols))
	}
	or := cols[1]
	if or.oper != operOr {
		t.Fatalf("operator = %d, want OR", or.oper)
	}
	union, _ := w.Type(velocity, acceleration)
	if or.orType != union {
		t.Errorf("or type = %d, want %d", or.orType, union)
	}
}

func TestParseErrors(t *testing.T) {
	w, _, _, _ := sigWorld(t)
	defer w.Fini()

	tests := []struct {
		name        string
		sig         string
		wantParse   bool
		wantUnknown bool
	}{
		{"unknown component", "Whirligig", false, true},
		{"unknown source", "Ghost.Position", false, true},
		{"empty column", "Position,,Velocity", true, false},
		{"dangling operator", "!", true, false},
		{"malformed identifier", "Pos ition", true, false},
		{"operator inside or chain", "Velocity|!Acceleration", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSignature(w, tt.sig)
			if err == nil {
				t.Fatalf("expected error")
			}
			var parseErr ParseError
			var unknownErr UnknownNameError
			if tt.wantParse && !errors.As(err, &parseErr) {
				t.Errorf("err = %v, want ParseError", err)
			}
			if tt.wantUnknown && !errors.As(err, &unknownErr) {
				t.Errorf("err = %v, want UnknownNameError", err)
			}
		})
	}
}
