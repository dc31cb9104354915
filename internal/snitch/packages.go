package snitch

import (
	"context"
	"fmt"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/ingest"
	"github.com/roach88/snitch/internal/run"
)

// findHost returns the stored host for a per-host document. The bool is
// false, after a warning, when the host was not ingested.
func findHost(ctx context.Context, s *ingest.Session, env run.Environment, hostname string) (entity.Instance, bool, error) {
	host, ok, err := s.Find(ctx, fleet.Host{Hostname: hostname, Environment: env.Identity()})
	if err != nil {
		return entity.Instance{}, false, fmt.Errorf("find host %s: %w", hostname, err)
	}
	if !ok {
		s.Logger.Warn("unable to locate host", "hostname", hostname)
	}
	return host, ok, nil
}

type aptPackageDoc struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Apt records installed Debian packages from dpkg_list_<hostname>.json.
// Packages whose status is not "installed" are ignored.
type Apt struct{}

func (Apt) Name() string { return "apt" }

func (Apt) Snitch(ctx context.Context, s *ingest.Session) error {
	files, err := s.Run.HostFiles("dpkg_list_")
	if err != nil {
		return err
	}
	env := s.Run.Environment()
	for _, f := range files {
		host, ok, err := findHost(ctx, s, env, f.Host)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		doc, _, err := readDocument(f.Path)
		if err != nil {
			return err
		}
		var pkgs []aptPackageDoc
		if err := doc.decode(&pkgs); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}

		srcs := make([]entity.Source, 0, len(pkgs))
		for _, p := range pkgs {
			if p.Status != "installed" {
				continue
			}
			srcs = append(srcs, fleet.AptPackage{Name: p.Name, Version: p.Version})
		}
		children, err := s.UpdateAll(ctx, srcs)
		if err != nil {
			return err
		}
		if err := s.SetChildren(ctx, host, "aptpackages", children); err != nil {
			return err
		}
	}
	return nil
}

type pythonPackageDoc struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Pip records virtualenvs and their python packages from
// pip_list_<hostname>.json, keyed by virtualenv path.
type Pip struct{}

func (Pip) Name() string { return "pip" }

func (Pip) Snitch(ctx context.Context, s *ingest.Session) error {
	files, err := s.Run.HostFiles("pip_list_")
	if err != nil {
		return err
	}
	env := s.Run.Environment()
	for _, f := range files {
		host, ok, err := findHost(ctx, s, env, f.Host)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		doc, _, err := readDocument(f.Path)
		if err != nil {
			return err
		}
		var venvs map[string][]pythonPackageDoc
		if err := doc.decode(&venvs); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}

		children := make([]entity.Instance, 0, len(venvs))
		for _, path := range sortedKeys(venvs) {
			venv, err := s.Update(ctx, fleet.Virtualenv{Path: path, Host: host.Identity()})
			if err != nil {
				return err
			}
			srcs := make([]entity.Source, 0, len(venvs[path]))
			for _, p := range venvs[path] {
				srcs = append(srcs, fleet.PythonPackage{Name: p.Name, Version: p.Version})
			}
			pkgs, err := s.UpdateAll(ctx, srcs)
			if err != nil {
				return err
			}
			if err := s.SetChildren(ctx, venv, "pythonpackages", pkgs); err != nil {
				return err
			}
			children = append(children, venv)
		}
		if err := s.SetChildren(ctx, host, "virtualenvs", children); err != nil {
			return err
		}
	}
	return nil
}
