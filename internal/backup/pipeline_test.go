package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepackages/forge/internal/database"
	"github.com/forgepackages/forge/internal/heroku"
	"github.com/forgepackages/forge/internal/toolchain"
	"github.com/forgepackages/forge/internal/ui"
	"github.com/forgepackages/forge/internal/workspace"
)

type recorder struct {
	events []string
}

func (r *recorder) add(e string) { r.events = append(r.events, e) }

type fakeDjango struct {
	rec       *recorder
	checkErr  error
	installed bool
	pipe      func(r io.Reader, output string) error
}

func (f *fakeDjango) Check(context.Context, ...string) error {
	f.rec.add("check")
	return f.checkErr
}

func (f *fakeDjango) HasCommand(_ context.Context, name string) (bool, error) {
	f.rec.add("has " + name)
	return f.installed, nil
}

func (f *fakeDjango) Pipe(_ context.Context, r io.Reader, args ...string) error {
	f.rec.add("pipe " + strings.Join(args[:2], " "))
	return f.pipe(r, args[2])
}

type fakeSource struct {
	rec     *recorder
	baseURL string
	app     string
	backups error
}

func (f *fakeSource) CaptureBackup(context.Context) error {
	f.rec.add("capture")
	return nil
}

func (f *fakeSource) LatestBackup(context.Context) (heroku.Backup, error) {
	f.rec.add("backups")
	if f.backups != nil {
		return heroku.Backup{}, f.backups
	}
	return heroku.Backup{ID: "b012", Lines: []string{"ID  Created at", "──  ──", "b012  2022-05-01"}}, nil
}

func (f *fakeSource) AppName(context.Context) (string, error) {
	f.rec.add("app")
	if f.app != "" {
		return f.app, nil
	}
	return "shop-prod", nil
}

func (f *fakeSource) BackupURL(_ context.Context, id string) (string, error) {
	f.rec.add("url " + id)
	return f.baseURL + "/backups/" + id, nil
}

type fakeTarget struct {
	rec      *recorder
	restored database.Artifact
	content  string
}

func (f *fakeTarget) Start(context.Context) error {
	f.rec.add("start")
	return nil
}

func (f *fakeTarget) RestoreDump(_ context.Context, a database.Artifact) error {
	f.rec.add("restore")
	f.restored = a
	data, err := os.ReadFile(a.Path)
	f.content = string(data)
	return err
}

type fixture struct {
	rec      *recorder
	django   *fakeDjango
	source   *fakeSource
	target   *fakeTarget
	out      *bytes.Buffer
	pipeline *Pipeline
}

func newFixture(t *testing.T, answer string) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "PGDMP backup for "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	rec := &recorder{}
	out := &bytes.Buffer{}
	u := ui.New(out, out, strings.NewReader(answer))
	u.SetInteractive(true)
	f := &fixture{
		rec: rec,
		django: &fakeDjango{rec: rec, pipe: func(r io.Reader, output string) error {
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return os.WriteFile(output, []byte("-- anonymized\n"+string(data)), 0o600)
		}},
		source: &fakeSource{rec: rec, baseURL: srv.URL},
		target: &fakeTarget{rec: rec},
		out:    out,
	}
	ws, err := workspace.New(filepath.Join(t.TempDir(), ".forge"))
	require.NoError(t, err)
	f.pipeline = &Pipeline{
		Django:    f.django,
		Source:    f.source,
		Target:    f.target,
		UI:        u,
		HTTP:      srv.Client(),
		Workspace: ws,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func boolPtr(v bool) *bool { return &v }

func TestPlainImport(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.pipeline.Run(context.Background(), Options{Capture: true, AssumeYes: true}))

	assert.Equal(t, []string{"check", "has anonymizedump", "capture", "backups", "start", "app", "url b012", "restore"}, f.rec.events)
	assert.True(t, f.target.restored.Compressed)
	assert.Equal(t, f.pipeline.Workspace.Path("shop-prod.dump"), f.target.restored.Path)
	assert.Equal(t, "PGDMP backup for /backups/b012", f.target.content)
	assert.NoFileExists(t, f.target.restored.Path, "artifact removed after import")
	assert.Contains(t, f.out.String(), "Database imported!")
}

func TestAnonymizeEnabledByDefault(t *testing.T) {
	f := newFixture(t, "")
	f.django.installed = true
	require.NoError(t, f.pipeline.Run(context.Background(), Options{}))

	assert.Contains(t, f.out.String(), "Enabling anonymize by default")
	assert.Contains(t, f.rec.events, "pipe anonymizedump --output")
	assert.False(t, f.target.restored.Compressed)
	assert.Equal(t, f.pipeline.Workspace.Path("shop-prod.anonymized.dump"), f.target.restored.Path)
	assert.Equal(t, "-- anonymized\nPGDMP backup for /backups/b012", f.target.content)
}

func TestAnonymizeRequestedButMissing(t *testing.T) {
	f := newFixture(t, "")
	err := f.pipeline.Run(context.Background(), Options{Anonymize: boolPtr(true)})
	require.ErrorIs(t, err, ErrAnonymizeUnavailable)
	assert.Equal(t, []string{"check", "has anonymizedump"}, f.rec.events)
}

func TestDecliningConfirmationStops(t *testing.T) {
	f := newFixture(t, "n\n")
	f.django.installed = true
	require.NoError(t, f.pipeline.Run(context.Background(), Options{Anonymize: boolPtr(false)}))

	assert.Contains(t, f.out.String(), "Are you sure you want to download production data? [y/N]")
	assert.Equal(t, []string{"check", "has anonymizedump"}, f.rec.events)
}

func TestConfirmationRequiresTerminal(t *testing.T) {
	f := newFixture(t, "")
	f.pipeline.UI.SetInteractive(false)
	err := f.pipeline.Run(context.Background(), Options{})
	require.ErrorIs(t, err, ui.ErrNotInteractive)
	assert.NotContains(t, f.rec.events, "start")
}

func TestHealthCheckFailureStopsEverything(t *testing.T) {
	f := newFixture(t, "")
	f.django.checkErr = &toolchain.ExitError{Command: "python", Code: 1}
	err := f.pipeline.Run(context.Background(), Options{AssumeYes: true})
	require.ErrorIs(t, err, ErrHealthCheck)
	assert.Equal(t, []string{"check"}, f.rec.events)
}

func TestNoBackupsSkipsContainer(t *testing.T) {
	f := newFixture(t, "")
	f.source.backups = heroku.ErrNoBackups
	err := f.pipeline.Run(context.Background(), Options{AssumeYes: true})
	require.ErrorIs(t, err, heroku.ErrNoBackups)
	assert.EqualError(t, err, "No backups found. Run with --backup to make a new backup now.")
	assert.NotContains(t, f.rec.events, "start")
	assert.NotContains(t, f.rec.events, "restore")
}

func TestAnonymizerFailureAbortsBeforeImport(t *testing.T) {
	f := newFixture(t, "")
	f.django.installed = true
	f.django.pipe = func(r io.Reader, output string) error {
		_, _ = io.Copy(io.Discard, r)
		return &toolchain.ExitError{Command: "python", Code: 2}
	}

	err := f.pipeline.Run(context.Background(), Options{})
	var exitErr *toolchain.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.NotContains(t, f.rec.events, "restore")
	assert.NotContains(t, f.out.String(), "Importing database")
	assert.Contains(t, f.out.String(), "Failed to anonymize Heroku backup")
}

func TestFailedCleanupIsLogged(t *testing.T) {
	f := newFixture(t, "")
	f.django.installed = true
	f.source.app = "../outside"
	f.django.pipe = func(r io.Reader, output string) error {
		_, _ = io.Copy(io.Discard, r)
		return &toolchain.ExitError{Command: "python", Code: 2}
	}
	var logs bytes.Buffer
	f.pipeline.Log = slog.New(slog.NewTextHandler(&logs, nil))

	err := f.pipeline.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, logs.String(), "remove backup artifact")
	assert.Contains(t, logs.String(), "refusing to cleanup path outside workspace root")
	assert.Contains(t, logs.String(), "import_id=")
}
