// Package backup imports a production database backup into the local
// development database, optionally anonymizing it on the way in.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/forgepackages/forge/internal/database"
	"github.com/forgepackages/forge/internal/heroku"
	"github.com/forgepackages/forge/internal/ui"
	"github.com/forgepackages/forge/internal/workspace"
)

// AnonymizeCommand is the management command that streams an anonymized dump.
const AnonymizeCommand = "anonymizedump"

var (
	// ErrHealthCheck is returned when the Django system checks fail before an import.
	ErrHealthCheck = errors.New("Django check failed!")
	// ErrAnonymizeUnavailable is returned when anonymization is requested but not installed.
	ErrAnonymizeUnavailable = errors.New("Anonymize is not installed")
)

// Django is the slice of manage.py the pipeline uses.
type Django interface {
	Check(ctx context.Context, args ...string) error
	HasCommand(ctx context.Context, name string) (bool, error)
	Pipe(ctx context.Context, r io.Reader, args ...string) error
}

// Source provides backups of the production database.
type Source interface {
	CaptureBackup(ctx context.Context) error
	LatestBackup(ctx context.Context) (heroku.Backup, error)
	AppName(ctx context.Context) (string, error)
	BackupURL(ctx context.Context, id string) (string, error)
}

// Target is the local database the backup is restored into.
type Target interface {
	Start(ctx context.Context) error
	RestoreDump(ctx context.Context, artifact database.Artifact) error
}

// Options control a single import.
type Options struct {
	// Capture takes a fresh backup before importing.
	Capture bool
	// Anonymize forces anonymization on or off; nil enables it when available.
	Anonymize *bool
	// AssumeYes skips the confirmation for importing unanonymized data.
	AssumeYes bool
}

// Pipeline runs the import steps strictly in order.
type Pipeline struct {
	Django Django
	Source Source
	Target Target
	UI     *ui.UI
	HTTP   *http.Client
	// Workspace holds the downloaded artifact until it is imported.
	Workspace *workspace.Manager
	Log       *slog.Logger
}

// Run performs one import. Declining the confirmation returns nil without
// importing anything. An interrupted import can leave the side database behind;
// the next import drops it first.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("import_id", uuid.NewString())

	if err := p.Django.Check(ctx); err != nil {
		log.Debug("django check failed", "error", err)
		return ErrHealthCheck
	}

	anonymize, proceed, err := p.resolveAnonymize(ctx, opts)
	if err != nil || !proceed {
		return err
	}
	log.Debug("anonymize resolved", "anonymize", anonymize)

	if opts.Capture {
		p.UI.Step("Creating a backup using heroku pg:backups:capture")
		if err := p.Source.CaptureBackup(ctx); err != nil {
			return fmt.Errorf("capture backup: %w", err)
		}
	}

	backup, err := p.Source.LatestBackup(ctx)
	if err != nil {
		return err
	}
	p.UI.Step("Using latest Heroku backup")
	for _, line := range backup.Lines {
		p.UI.Println(line)
	}
	p.UI.Println()

	if err := p.Target.Start(ctx); err != nil {
		return err
	}

	app, err := p.Source.AppName(ctx)
	if err != nil {
		return err
	}
	url, err := p.Source.BackupURL(ctx, backup.ID)
	if err != nil {
		return err
	}
	log.Info("importing backup", "app", app, "backup", backup.ID)

	var artifact database.Artifact
	if anonymize {
		artifact, err = p.anonymize(ctx, log, app, url)
	} else {
		artifact, err = p.download(ctx, log, app, url)
	}
	if err != nil {
		return err
	}
	defer p.discard(log, artifact.Path)

	p.UI.Step("Importing database from Heroku backup")
	if err := p.Target.RestoreDump(ctx, artifact); err != nil {
		return err
	}
	p.UI.Success("Database imported!")
	return nil
}

func (p *Pipeline) resolveAnonymize(ctx context.Context, opts Options) (anonymize, proceed bool, err error) {
	installed, err := p.Django.HasCommand(ctx, AnonymizeCommand)
	if err != nil {
		return false, false, fmt.Errorf("check for %s: %w", AnonymizeCommand, err)
	}

	switch {
	case opts.Anonymize != nil && *opts.Anonymize && !installed:
		return false, false, ErrAnonymizeUnavailable
	case opts.Anonymize != nil:
		anonymize = *opts.Anonymize
	case installed:
		p.UI.Warn("Enabling anonymize by default")
		anonymize = true
	}

	if anonymize || opts.AssumeYes {
		return anonymize, true, nil
	}
	ok, err := p.UI.Confirm("Anonymization is not enabled. Are you sure you want to download production data?")
	if err != nil {
		return false, false, err
	}
	return false, ok, nil
}

func (p *Pipeline) get(ctx context.Context, url string) (*http.Response, error) {
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build backup request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download backup: unexpected status %s", resp.Status)
	}
	return resp, nil
}

func (p *Pipeline) download(ctx context.Context, log *slog.Logger, app, url string) (database.Artifact, error) {
	path := p.Workspace.Path(app + ".dump")
	p.UI.Step("Downloading Heroku backup to %s", p.relative(path))

	resp, err := p.get(ctx, url)
	if err != nil {
		return database.Artifact{}, err
	}
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return database.Artifact{}, fmt.Errorf("create dump file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		p.discard(log, path)
		return database.Artifact{}, fmt.Errorf("write dump file: %w", err)
	}
	if err := f.Close(); err != nil {
		return database.Artifact{}, fmt.Errorf("close dump file: %w", err)
	}
	return database.Artifact{Path: path, Compressed: true}, nil
}

// anonymize streams the backup body straight into the anonymizer's stdin; the
// anonymizer writes a plain SQL dump.
func (p *Pipeline) anonymize(ctx context.Context, log *slog.Logger, app, url string) (database.Artifact, error) {
	path := p.Workspace.Path(app + ".anonymized.dump")
	p.UI.Step("Anonymizing Heroku backup and saving to %s", p.relative(path))

	resp, err := p.get(ctx, url)
	if err != nil {
		return database.Artifact{}, err
	}
	defer resp.Body.Close()

	if err := p.Django.Pipe(ctx, resp.Body, AnonymizeCommand, "--output", path); err != nil {
		p.UI.Error("Failed to anonymize Heroku backup")
		p.discard(log, path)
		return database.Artifact{}, err
	}
	return database.Artifact{Path: path, Compressed: false}, nil
}

// discard removes a backup artifact from the workspace, logging failures.
func (p *Pipeline) discard(log *slog.Logger, path string) {
	if err := p.Workspace.Cleanup(path); err != nil {
		log.Warn("remove backup artifact", "path", path, "error", err)
	}
}

func (p *Pipeline) relative(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil {
		return rel
	}
	return path
}
