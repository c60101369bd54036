package foreman_test

import (
	"fmt"

	"github.com/TheBitDrifter/foreman"
)

type Position struct{ X, Y float64 }

type Velocity struct{ X, Y float64 }

func Example() {
	world := foreman.Factory.NewWorld()
	defer world.Fini()

	position := foreman.NewComponentFor[Position](world, "Position")
	velocity := foreman.NewComponentFor[Velocity](world, "Velocity")

	e, _ := world.NewEntityWith(position.ID, velocity.ID)
	position.SetValue(world, e, Position{X: 1, Y: 1})
	velocity.SetValue(world, e, Velocity{X: 2, Y: 3})

	world.NewSystem("Move", foreman.OnUpdate, "Position, Velocity",
		func(rows *foreman.Rows) {
			for i := 0; i < rows.Count(); i++ {
				pos := position.GetFromRows(rows, 0, i)
				vel := velocity.GetFromRows(rows, 1, i)
				pos.X += vel.X
				pos.Y += vel.Y
			}
		})
	world.Progress(1.0 / 60.0)

	final, _ := position.GetFromHandle(world, e)
	fmt.Printf("position: %.0f,%.0f\n", final.X, final.Y)
	// Output: position: 3,4
}
