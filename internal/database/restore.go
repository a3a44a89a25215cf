package database

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// maintenanceDatabase is connected to for the final rename; it is never the
// source or the destination of an import.
const maintenanceDatabase = "template1"

var (
	roleMissing  = regexp.MustCompile(`^ERROR:  role ".+" does not exist`)
	roleQuery    = regexp.MustCompile(`ERROR:  role ".+" does not exist`)
	restoreError = regexp.MustCompile(`^(ERROR:|pg_restore: error:)`)
)

// Artifact is a dump file ready to be restored.
type Artifact struct {
	Path string
	// Compressed dumps are in pg_dump custom format and restored with
	// pg_restore; plain SQL dumps are piped into psql.
	Compressed bool
}

// RestoreDump imports artifact into a side database and, once it is known to
// exist, replaces the project database with it. The project database is only
// dropped after the side database has been populated.
func (c *Container) RestoreDump(ctx context.Context, artifact Artifact) error {
	importDB := c.desc.ImportDatabase()
	user := c.desc.User

	if _, err := c.mustExecute(ctx, []string{"dropdb", importDB, "--if-exists", "-U", user}, nil); err != nil {
		return fmt.Errorf("drop stale import database: %w", err)
	}
	if _, err := c.mustExecute(ctx, []string{"createdb", importDB, "-U", user}, nil); err != nil {
		return fmt.Errorf("create import database: %w", err)
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	argv := []string{"psql", importDB, "-U", user}
	if artifact.Compressed {
		argv = []string{"pg_restore", "--no-owner", "--dbname", importDB, "-U", user}
	}
	c.log.Info("restoring dump", "tool", argv[0], "database", importDB, "path", artifact.Path)
	out, err := c.Execute(ctx, argv, f)
	if err != nil {
		return err
	}
	// Non-fatal diagnostics are printed and the import continues. A failed
	// restore with real errors stops here, while the canonical database is
	// still untouched and only the side database holds partial data.
	fatal := c.reportRestoreErrors(out.Stderr)
	if out.ExitCode != 0 && fatal {
		return fmt.Errorf("restore dump: %w", execFailure(argv, Output{ExitCode: out.ExitCode}))
	}

	if err := c.requireDatabase(ctx, importDB); err != nil {
		return err
	}
	if err := c.Reset(ctx, false); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}

	rename := fmt.Sprintf("ALTER DATABASE %s RENAME TO %s",
		pgx.Identifier{importDB}.Sanitize(), pgx.Identifier{c.desc.Database}.Sanitize())
	if _, err := c.mustExecute(ctx, []string{"psql", "-U", user, maintenanceDatabase, "-c", rename}, nil); err != nil {
		return fmt.Errorf("rename import database: %w", err)
	}
	c.log.Info("database imported", "database", c.desc.Database)
	return nil
}

// reportRestoreErrors prints restore diagnostics except missing-role errors,
// which are expected for dumps taken from a hosted provider. It reports
// whether any error other than those remained.
func (c *Container) reportRestoreErrors(stderr string) bool {
	fatal := false
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if roleMissing.MatchString(line) {
			continue
		}
		fmt.Fprintln(c.out, line)
		if restoreError.MatchString(line) && !roleQuery.MatchString(line) {
			fatal = true
		}
	}
	return fatal
}

func (c *Container) requireDatabase(ctx context.Context, name string) error {
	query := fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s'", strings.ReplaceAll(name, "'", "''"))
	out, err := c.mustExecute(ctx, []string{"psql", "-U", c.desc.User, maintenanceDatabase, "-tAc", query}, nil)
	if err != nil {
		return fmt.Errorf("verify import database: %w", err)
	}
	if strings.TrimSpace(out.Stdout) != "1" {
		return fmt.Errorf("import database %s was not created", name)
	}
	return nil
}
