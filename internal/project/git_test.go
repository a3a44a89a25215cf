package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitQueries(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	p := load(t, root, nil)

	has, err := p.HasRemote("heroku")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "heroku", URLs: []string{"https://git.heroku.com/shop.git"}})
	require.NoError(t, err)
	has, err = p.HasRemote("heroku")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("shop\n"), 0o644))
	clean, summary, err := p.WorktreeStatus()
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Contains(t, summary, "README.md")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("First commit", &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	branch, err := p.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}
