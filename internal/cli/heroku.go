package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgepackages/forge/internal/heroku"
	"github.com/forgepackages/forge/internal/toolchain"
)

func newHerokuCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heroku",
		Short: "Shortcuts for common Heroku operations",
	}
	cmd.AddCommand(newHerokuCreateCmd(app), newHerokuSetBuildpacksCmd(app))
	return cmd
}

func newHerokuCreateCmd(app *App) *cobra.Command {
	var postgresTier, redisTier, team string
	cmd := &cobra.Command{
		Use:   "create <app>",
		Short: "Create and configure a Heroku app for this project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			return createHerokuApp(cmd.Context(), s, args[0], team, postgresTier, redisTier)
		},
	}
	cmd.Flags().StringVar(&postgresTier, "postgres-tier", "hobby-dev", "heroku-postgresql plan")
	cmd.Flags().StringVar(&redisTier, "redis-tier", "hobby-dev", "heroku-redis plan")
	cmd.Flags().StringVar(&team, "team", "", "Create the app on this team")
	return cmd
}

func createHerokuApp(ctx context.Context, s *session, name, team, postgresTier, redisTier string) error {
	u := s.ui()
	exists, err := s.project.HasRemote("heroku")
	if err != nil {
		return err
	}
	if exists {
		u.Error("heroku remote already exists")
		return exit("heroku create", 1)
	}

	h := s.heroku()
	if team != "" {
		u.Step("Creating Heroku app on %s", team)
	} else {
		u.Step("Creating Heroku app")
	}
	if err := h.CreateApp(ctx, name, team); err != nil {
		return err
	}
	u.Println()
	if err := setBuildpacks(ctx, s, true); err != nil {
		return err
	}
	u.Println()

	u.Step("Adding Postgres and Redis")
	if err := h.AddAddon(ctx, "heroku-postgresql:"+postgresTier); err != nil {
		return err
	}
	u.Println()
	if err := h.AddAddon(ctx, "heroku-redis:"+redisTier); err != nil {
		return err
	}
	u.Println()

	u.Step("Setting PYTHON_RUNTIME_VERSION, SECRET_KEY, and BASE_URL")
	pythonVersion, err := localPythonVersion(ctx, s)
	if err != nil {
		return err
	}
	secretKey, err := heroku.RandomSecretKey()
	if err != nil {
		return err
	}
	if err := h.ConfigSet(ctx,
		"PYTHON_RUNTIME_VERSION="+pythonVersion,
		"SECRET_KEY="+secretKey,
		fmt.Sprintf("BASE_URL=https://%s.herokuapp.com", name),
	); err != nil {
		return err
	}

	u.Println()
	u.Step("Enabling runtime-dyno-metadata")
	if err := h.EnableLab(ctx, "runtime-dyno-metadata"); err != nil {
		return err
	}

	u.Println()
	u.Step("Almost done! Next we'll make your first deploy using these steps:\n")
	u.Println(strings.Join([]string{
		fmt.Sprintf("  1. Add and %s any outstanding changes", u.Emphasis("git commit")),
		fmt.Sprintf("  2. Manually %s to Heroku", u.Emphasis("git push")),
		fmt.Sprintf("  3. Prompt to %s on the production app", u.Emphasis("createsuperuser")),
	}, "\n") + "\n")

	ok, err := u.Confirm(u.Emphasis("Ready to commit and deploy?"))
	if err != nil {
		return err
	}
	if !ok {
		u.Println("Aborting. Your Heroku app is ready and you can deploy it yourself when you're ready!")
		return nil
	}

	clean, status, err := s.project.WorktreeStatus()
	if err != nil {
		return err
	}
	if !clean {
		u.Warn("\nYou have uncommitted changes.\n")
		u.Println(status)
		msg, err := u.Prompt("\n"+u.Emphasis("Enter a commit message to add and commit them now"), "First commit")
		if err != nil {
			return err
		}
		if err := runGit(ctx, s, "add", ".", "-A"); err != nil {
			return err
		}
		if err := runGit(ctx, s, "commit", "-m", msg); err != nil {
			return err
		}
	}

	branch, err := s.project.CurrentBranch()
	if err != nil {
		return err
	}
	u.Println()
	u.Step("Pushing to Heroku with `git push heroku %s`", branch)
	if err := runGit(ctx, s, "push", "heroku", branch); err != nil {
		return err
	}

	u.Println()
	u.Step("Running `createsuperuser` on the production app")
	if err := h.Exec(ctx, s.app.Stdin, "python", "app/manage.py", "createsuperuser"); err != nil {
		return err
	}

	u.Println()
	u.Success("You're all set! You can connect your GitHub repo to the Heroku app at:\n\n  https://dashboard.heroku.com/apps/%s/deploy/github", name)
	return nil
}

func newHerokuSetBuildpacksCmd(app *App) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "set-buildpacks",
		Short: "Set the buildpacks this project needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			return setBuildpacks(cmd.Context(), s, confirm)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Do not ask for confirmation")
	return cmd
}

func setBuildpacks(ctx context.Context, s *session, confirmed bool) error {
	if err := s.project.RequireRepo(); err != nil {
		return err
	}
	u := s.ui()
	buildpacks := heroku.SuggestedBuildpacks(s.project.RepoFileExists)

	u.Step("Suggested buildpacks:\n")
	for i, bp := range buildpacks {
		u.Println(fmt.Sprintf("  %d. %s", i+1, bp))
	}

	if !confirmed {
		ok, err := u.Confirm(u.Emphasis("\nContinue?"))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	h := s.heroku()
	u.Step("\nSetting Heroku buildpacks")
	if err := h.ClearBuildpacks(ctx); err != nil {
		return err
	}
	u.Println()
	for i, bp := range buildpacks {
		if err := h.SetBuildpack(ctx, bp, i+1); err != nil {
			return err
		}
		u.Println()
	}
	return nil
}

func localPythonVersion(ctx context.Context, s *session) (string, error) {
	out, err := s.runner.Output(ctx, toolchain.Cmd{Name: s.project.Config.Python, Args: []string{"--version"}})
	if err != nil {
		return "", fmt.Errorf("detect python version: %w", err)
	}
	return strings.TrimSpace(strings.TrimPrefix(out, "Python")), nil
}

func runGit(ctx context.Context, s *session, args ...string) error {
	_, err := s.runner.Run(ctx, toolchain.Cmd{Name: "git", Args: args, Dir: s.project.RepoRoot, Check: true})
	return err
}
