package cli

import (
	"fmt"
	"io"
	"os"
)

// Migrator is the schema migration surface used by the migrate command.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
}

// MigrateOptions defines the migrate command arguments.
type MigrateOptions struct {
	Action string
	Stdout io.Writer
	Stderr io.Writer
}

// MigrateCommand runs up, down or version and returns the exit code.
func MigrateCommand(m Migrator, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	var err error
	switch opts.Action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = m.Version()
		if err == nil {
			_, _ = fmt.Fprintf(opts.Stdout, "version=%d dirty=%t\n", version, dirty)
		}
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: unknown action %q (expected up|down|version)\n", opts.Action)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate %s: %v\n", opts.Action, err)
		return 1
	}
	if opts.Action != "version" {
		_, _ = fmt.Fprintf(opts.Stdout, "migrate %s: ok\n", opts.Action)
	}
	return 0
}
