package snitch

import (
	"context"
	"fmt"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/ingest"
)

// Environment creates the run's environment.
type Environment struct{}

func (Environment) Name() string { return "environment" }

func (Environment) Snitch(ctx context.Context, s *ingest.Session) error {
	env := s.Run.Environment()
	_, err := s.Update(ctx, fleet.Environment{AccountNumber: env.AccountNumber, Name: env.Name})
	return err
}

// findEnvironment returns the stored environment of the run. The bool is
// false, after a warning, when it has not been created.
func findEnvironment(ctx context.Context, s *ingest.Session) (entity.Instance, bool, error) {
	env := s.Run.Environment()
	in, ok, err := s.Find(ctx, fleet.Environment{AccountNumber: env.AccountNumber, Name: env.Name})
	if err != nil {
		return entity.Instance{}, false, fmt.Errorf("find environment: %w", err)
	}
	if !ok {
		s.Logger.Warn("unable to locate environment", "identity", env.Identity())
	}
	return in, ok, nil
}

// Uservars records the user variables of the environment from
// uservars.json.
type Uservars struct{}

func (Uservars) Name() string { return "uservars" }

func (Uservars) Snitch(ctx context.Context, s *ingest.Session) error {
	doc, ok, err := readDocument(s.Run.File("uservars.json"))
	if err != nil {
		return err
	}
	if !ok {
		s.Logger.Info("no data for uservars could be found")
		return nil
	}
	env, ok, err := findEnvironment(ctx, s)
	if err != nil || !ok {
		return err
	}

	var vars map[string]any
	if err := doc.decode(&vars); err != nil {
		return fmt.Errorf("uservars.json: %w", err)
	}

	children := make([]entity.Instance, 0, len(vars))
	for _, name := range sortedKeys(vars) {
		in, err := s.Update(ctx, fleet.Uservar{Name: name, Environment: env.Identity(), Value: vars[name]})
		if err != nil {
			return err
		}
		children = append(children, in)
	}
	return s.SetChildren(ctx, env, "uservars", children)
}
