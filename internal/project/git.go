package project

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

func (p *Project) repository() (*git.Repository, error) {
	if err := p.RequireRepo(); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(p.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return repo, nil
}

// HasRemote reports whether the repository has a remote called name.
func (p *Project) HasRemote(name string) (bool, error) {
	repo, err := p.repository()
	if err != nil {
		return false, err
	}
	if _, err := repo.Remote(name); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up remote %s: %w", name, err)
	}
	return true, nil
}

// WorktreeStatus reports whether the working tree is clean, along with a
// short status listing of changed files.
func (p *Project) WorktreeStatus() (clean bool, summary string, err error) {
	repo, err := p.repository()
	if err != nil {
		return false, "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, "", fmt.Errorf("open git worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, "", fmt.Errorf("git status: %w", err)
	}
	return status.IsClean(), status.String(), nil
}

// CurrentBranch returns the short name of the checked out branch.
func (p *Project) CurrentBranch() (string, error) {
	repo, err := p.repository()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is not on a branch")
	}
	return head.Name().Short(), nil
}
