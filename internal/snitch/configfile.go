package snitch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/ingest"
)

// Configfile records configuration file contents from
// file_dict_<hostname>.json, a map of absolute path to contents.
type Configfile struct{}

func (Configfile) Name() string { return "configfile" }

func (Configfile) Snitch(ctx context.Context, s *ingest.Session) error {
	files, err := s.Run.HostFiles("file_dict_")
	if err != nil {
		return err
	}
	for _, f := range files {
		doc, _, err := readDocument(f.Path)
		if err != nil {
			return err
		}
		env := s.Run.Environment()
		if doc.Environment != nil && doc.Environment.AccountNumber != "" {
			env = *doc.Environment
		}
		host, ok, err := findHost(ctx, s, env, f.Host)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		var contents map[string]string
		if err := doc.decode(&contents); err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
		srcs := make([]entity.Source, 0, len(contents))
		for _, p := range sortedKeys(contents) {
			sum := md5.Sum([]byte(contents[p]))
			srcs = append(srcs, fleet.Configfile{
				Path:     p,
				Host:     host.Identity(),
				Name:     path.Base(p),
				MD5:      hex.EncodeToString(sum[:]),
				Contents: contents[p],
			})
		}
		children, err := s.UpdateAll(ctx, srcs)
		if err != nil {
			return err
		}
		if err := s.SetChildren(ctx, host, "configfiles", children); err != nil {
			return err
		}
	}
	return nil
}
