package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgepackages/forge/internal/supervisor"
	"github.com/forgepackages/forge/internal/toolchain"
)

func newWorkCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Start local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := app.session()
			if err != nil {
				return err
			}
			if err := s.project.RequireRepo(); err != nil {
				return err
			}

			env := s.project.Env
			if env.Has("STRIPE_WEBHOOK_PATH") && !env.Has("STRIPE_WEBHOOK_SECRET") {
				secret, err := s.runner.Output(ctx, toolchain.Cmd{Name: "stripe", Args: []string{"listen", "--print-secret"}})
				if err != nil {
					return err
				}
				s.ui().Success("Adding automatic STRIPE_WEBHOOK_SECRET to .env")
				if err := s.project.SetEnvKey("STRIPE_WEBHOOK_SECRET", secret); err != nil {
					return err
				}
			}

			dj, err := s.django()
			if err != nil {
				return err
			}
			if err := dj.Check(ctx); err != nil {
				app.logger().Debug("django check failed", "error", err)
				s.ui().Error("Django check failed!")
				return exit("check", 1)
			}

			procs, err := workProcesses(s, dj)
			if err != nil {
				return err
			}
			sup := supervisor.New(app.Stdout, s.project.Env.Environ(), app.logger())
			for _, p := range procs {
				if err := sup.Add(p); err != nil {
					return err
				}
			}
			code, err := sup.Run(ctx)
			if err != nil {
				return err
			}
			if code != 0 {
				return exit("work", code)
			}
			return nil
		},
	}
}

// workProcesses builds the development process set for the project.
func workProcesses(s *session, dj toolchain.Django) ([]supervisor.Process, error) {
	cfg := s.project.Config
	port := strconv.Itoa(cfg.RunserverPort)
	self := s.app.Self

	var procs []supervisor.Process
	if s.project.Env.Has("STRIPE_WEBHOOK_PATH") {
		procs = append(procs, supervisor.Process{
			Name:  "stripe",
			Steps: [][]string{{"stripe", "listen", "--forward-to", "localhost:" + port + cfg.StripeWebhookPath}},
		})
	}

	procs = append(procs,
		supervisor.Process{
			Name:  "postgres",
			Steps: [][]string{{self, "db", "start", "--logs"}},
		},
		supervisor.Process{
			Name: "django",
			Steps: [][]string{
				{self, "db", "wait"},
				dj.Argv("migrate"),
				dj.Argv("runserver", port),
			},
			Env: s.project.DjangoEnv(),
		},
		supervisor.Process{
			Name:  "tailwind",
			Steps: [][]string{{self, "tailwind", "compile", "--watch"}},
		},
	)

	if s.project.Env.Has("NGROK_SUBDOMAIN") {
		procs = append(procs, supervisor.Process{
			Name:  "ngrok",
			Steps: [][]string{{"ngrok", "http", port, "--log", "stdout", "--subdomain", cfg.NgrokSubdomain}},
		})
	}

	scripts, err := s.project.PackageScripts()
	if err != nil {
		return nil, err
	}
	if _, ok := scripts["watch"]; ok {
		procs = append(procs, supervisor.Process{
			Name:  "npm watch",
			Steps: [][]string{{"npm", "run", "watch"}},
		})
	}
	return procs, nil
}
