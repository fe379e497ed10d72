package replication

import (
	"context"
	"fmt"
)

// Strategy is one way of executing a task.
type Strategy interface {
	Name() string
	Execute(ctx context.Context) error
}

// Composite runs its strategies one after the other and stops at the first
// failure.
type Composite struct {
	Strategies []Strategy
}

func (c *Composite) Name() string {
	name := ""
	for i, s := range c.Strategies {
		if i > 0 {
			name += "_and_"
		}
		name += s.Name()
	}
	return name
}

func (c *Composite) Execute(ctx context.Context) error {
	for _, s := range c.Strategies {
		if err := s.Execute(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
	return nil
}
