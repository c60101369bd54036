/*
Package foreman provides an archetype-based Entity-Component-System (ECS) runtime
for games and simulations.

Foreman groups entities by their exact component set into columnar tables,
pre-matches systems against those tables through declarative signatures, and
buffers structural changes into stages so systems can freely mutate entities
while iterating.

Core Concepts:

  - Entity: A unique 64-bit identifier that represents an object.
  - Component: An entity carrying a fixed-size data descriptor.
  - Table: Columnar storage for all entities sharing a component set.
  - System: A callback matched against tables via a signature expression.
  - Stage: A buffer of structural deltas merged deterministically each frame.

Basic Usage:

	world := foreman.Factory.NewWorld()
	defer world.Fini()

	// Define components
	position := world.NewComponent("Position", 8)
	velocity := world.NewComponent("Velocity", 8)

	// Create entities
	e, _ := world.NewEntityWith(position, velocity)

	// Register a system and progress the world
	world.NewSystem("Move", foreman.OnUpdate, "Position, Velocity",
		func(rows *foreman.Rows) {
			for i := 0; i < rows.Count(); i++ {
				pos := rows.Column(0, i)
				vel := rows.Column(1, i)
				_ = pos
				_ = vel
			}
		})
	world.Progress(0)
	_ = e

Foreman is the scheduling counterpart to the warehouse storage layer and also
works as a standalone runtime.
*/
package foreman
