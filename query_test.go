package foreman

import "testing"

// TestMatcherOr covers OR matching: a system with an OR column matches every
// table holding at least one member of the union, and the resolved column
// points at whichever member is present.
func TestMatcherOr(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	velocity := w.NewComponent("Velocity", 8)
	acceleration := w.NewComponent("Acceleration", 8)

	if _, err := w.NewEntityWith(position, velocity); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}
	if _, err := w.NewEntityWith(position, acceleration); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}

	var resolved []EntityID
	if _, err := w.NewSystem("Motion", OnUpdate, "Position, Velocity|Acceleration",
		func(rows *Rows) {
			resolved = append(resolved, rows.ColumnID(1))
		}); err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	w.Progress(0.016)

	if len(resolved) != 2 {
		t.Fatalf("matched table invocations = %d, want 2", len(resolved))
	}
	seen := map[EntityID]bool{}
	for _, id := range resolved {
		seen[id] = true
	}
	if !seen[velocity] || !seen[acceleration] {
		t.Errorf("resolved OR columns = %v, want one Velocity and one Acceleration", resolved)
	}
}

// TestMatcherNotAndOptional checks NOT exclusion and OPTIONAL pass-through
// with an absent column.
func TestMatcherNotAndOptional(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	velocity := w.NewComponent("Velocity", 8)
	health := w.NewComponent("Health", 4)

	still, _ := w.NewEntityWith(position)
	if _, err := w.NewEntityWith(position, velocity); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}

	var entities []EntityID
	var optionalPresent []bool
	w.NewSystem("Statics", OnUpdate, "Position, !Velocity, ?Health",
		func(rows *Rows) {
			for i := 0; i < rows.Count(); i++ {
				entities = append(entities, rows.Entity(i))
				optionalPresent = append(optionalPresent, rows.Column(2, i) != nil)
			}
		})
	w.Progress(0.016)

	if len(entities) != 1 || entities[0] != still {
		t.Fatalf("matched entities = %v, want only %d", entities, still)
	}
	if optionalPresent[0] {
		t.Errorf("optional Health column should be absent")
	}

	// adding Health makes the optional column resolve on the next frame
	if err := w.Add(still, health); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	entities, optionalPresent = nil, nil
	w.Progress(0.016)
	if len(optionalPresent) != 1 || !optionalPresent[0] {
		t.Errorf("optional Health column should resolve after add")
	}
}

// TestMatcherEntityRef covers FromEntity sources: the column resolves to a
// ref on the named entity with stride 0.
func TestMatcherEntityRef(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	view := NewComponentFor[uint64](w, "ViewMatrix")
	camera := w.NewNamedEntity("Camera")
	if err := view.SetValue(w, camera, 77); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if _, err := w.NewEntityWith(position); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}

	var got uint64
	var stride int
	w.NewSystem("Render", OnUpdate, "Position, Camera.ViewMatrix",
		func(rows *Rows) {
			_, stride = rows.ColumnData(1)
			got = *view.GetFromRows(rows, 1, 0)
		})
	w.Progress(0.016)

	if stride != 0 {
		t.Errorf("ref stride = %d, want 0", stride)
	}
	if got != 77 {
		t.Errorf("ref value = %d, want 77", got)
	}
}

// TestMatcherSingleton covers $. sources resolving against the world's
// singleton entity.
func TestMatcherSingleton(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	gameTime := NewComponentFor[uint64](w, "GameTime")
	if err := gameTime.SetValue(w, w.Singleton(), 5); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if _, err := w.NewEntityWith(position); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}

	var got uint64
	w.NewSystem("Clocked", OnUpdate, "Position, $.GameTime",
		func(rows *Rows) {
			got = *gameTime.GetFromRows(rows, 1, 0)
		})
	w.Progress(0.016)
	if got != 5 {
		t.Errorf("singleton value = %d, want 5", got)
	}
}

// TestMatcherContainer covers CONTAINER. sources: the ref resolves against a
// prefab member of the entity's type that owns the component.
func TestMatcherContainer(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	mesh := NewComponentFor[uint64](w, "Mesh")
	tree := w.NewPrefab("Tree")
	if err := mesh.SetValue(w, tree, 9); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	if _, err := w.NewEntityWith(position, tree); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}
	// an entity without the prefab must not match
	if _, err := w.NewEntityWith(position); err != nil {
		t.Fatalf("NewEntityWith failed: %v", err)
	}

	var invocations int
	var got uint64
	w.NewSystem("Shaded", OnUpdate, "Position, CONTAINER.Mesh",
		func(rows *Rows) {
			invocations++
			got = *mesh.GetFromRows(rows, 1, 0)
		})
	w.Progress(0.016)

	if invocations != 1 {
		t.Fatalf("invocations = %d, want 1", invocations)
	}
	if got != 9 {
		t.Errorf("container value = %d, want 9", got)
	}
}

// TestMatchPurity verifies invariant: matching depends only on the signature
// and the table type, not on creation order of unrelated tables.
func TestMatchPurity(t *testing.T) {
	w := Factory.NewWorld()
	defer w.Fini()

	position := w.NewComponent("Position", 8)
	velocity := w.NewComponent("Velocity", 8)
	health := w.NewComponent("Health", 4)

	// create unrelated tables around the matching one, in scrambled order
	w.NewEntityWith(health)
	e, _ := w.NewEntityWith(position, velocity)
	w.NewEntityWith(velocity)
	w.NewEntityWith(health, velocity)

	var matched []EntityID
	w.NewSystem("Mover", OnUpdate, "Position, Velocity",
		func(rows *Rows) {
			for i := 0; i < rows.Count(); i++ {
				matched = append(matched, rows.Entity(i))
			}
		})
	w.Progress(0.016)

	if len(matched) != 1 || matched[0] != e {
		t.Errorf("matched = %v, want exactly %d", matched, e)
	}
}
