package foreman

// factory implements the factory pattern for foreman components.
type factory struct{}

// Factory is the global factory instance.
var Factory factory

// NewWorld creates a world with the given options applied.
func (f factory) NewWorld(opts ...Option) *World {
	return newWorld(opts...)
}
