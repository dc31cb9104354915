package snitch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/ingest"
)

type gitRepoDoc struct {
	Path             string              `json:"path"`
	ActiveBranchName string              `json:"active_branch_name"`
	HeadSHA          string              `json:"head_sha"`
	IsDetached       *bool               `json:"is_detached"`
	Remotes          map[string][]string `json:"remotes"`
	MergeBase        struct {
		Name string   `json:"name"`
		Diff []string `json:"diff"`
	} `json:"merge_base"`
	WorkingTree struct {
		IsDirty        *bool    `json:"is_dirty"`
		Diff           []string `json:"diff"`
		UntrackedFiles []string `json:"untracked_files"`
	} `json:"working_tree"`
}

// Git records the environment's checkouts from gitrepos.json:
// environment -> repo -> remote -> url, and repo -> untracked file.
type Git struct{}

func (Git) Name() string { return "git" }

func (Git) Snitch(ctx context.Context, s *ingest.Session) error {
	doc, ok, err := readDocument(s.Run.File("gitrepos.json"))
	if err != nil {
		return err
	}
	if !ok {
		s.Logger.Info("no data for git could be found")
		return nil
	}
	env, ok, err := findEnvironment(ctx, s)
	if err != nil || !ok {
		return err
	}

	var repos []gitRepoDoc
	if err := doc.decode(&repos); err != nil {
		return fmt.Errorf("gitrepos.json: %w", err)
	}

	children := make([]entity.Instance, 0, len(repos))
	for _, r := range repos {
		repo, err := updateRepo(ctx, s, env, r)
		if err != nil {
			return err
		}
		children = append(children, repo)
	}
	return s.SetChildren(ctx, env, "gitrepos", children)
}

func updateRepo(ctx context.Context, s *ingest.Session, env entity.Instance, r gitRepoDoc) (entity.Instance, error) {
	repo, err := s.Update(ctx, fleet.GitRepo{
		Path:               r.Path,
		Environment:        env.Identity(),
		ActiveBranchName:   r.ActiveBranchName,
		HeadSHA:            r.HeadSHA,
		IsDetached:         r.IsDetached,
		WorkingTreeDirty:   r.WorkingTree.IsDirty,
		WorkingTreeDiffMD5: diffMD5(r.WorkingTree.Diff),
		MergeBaseName:      r.MergeBase.Name,
		MergeBaseDiffMD5:   diffMD5(r.MergeBase.Diff),
	})
	if err != nil {
		return entity.Instance{}, err
	}

	remotes := make([]entity.Instance, 0, len(r.Remotes))
	for _, name := range sortedKeys(r.Remotes) {
		remote, err := s.Update(ctx, fleet.GitRemote{Name: name, Repo: repo.Identity()})
		if err != nil {
			return entity.Instance{}, err
		}
		urls := make([]entity.Source, 0, len(r.Remotes[name]))
		for _, u := range r.Remotes[name] {
			urls = append(urls, fleet.GitURL{URL: u})
		}
		urlInstances, err := s.UpdateAll(ctx, urls)
		if err != nil {
			return entity.Instance{}, err
		}
		if err := s.SetChildren(ctx, remote, "urls", urlInstances); err != nil {
			return entity.Instance{}, err
		}
		remotes = append(remotes, remote)
	}
	if err := s.SetChildren(ctx, repo, "remotes", remotes); err != nil {
		return entity.Instance{}, err
	}

	untracked := make([]entity.Source, 0, len(r.WorkingTree.UntrackedFiles))
	for _, p := range r.WorkingTree.UntrackedFiles {
		untracked = append(untracked, fleet.GitUntrackedFile{Path: p})
	}
	files, err := s.UpdateAll(ctx, untracked)
	if err != nil {
		return entity.Instance{}, err
	}
	if err := s.SetChildren(ctx, repo, "untrackedfiles", files); err != nil {
		return entity.Instance{}, err
	}
	return repo, nil
}

// diffMD5 returns the hex md5 of the concatenated diff lines, or "" for
// an empty diff.
func diffMD5(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	sum := md5.Sum([]byte(strings.Join(lines, "")))
	return hex.EncodeToString(sum[:])
}
