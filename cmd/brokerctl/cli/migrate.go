package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/odyssey-erp/brokerage/internal/platform/migrations"
)

// Migrator applies schema changes.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

// NewMigrator binds the embedded migrations to a database.
func NewMigrator(dsn string) Migrator {
	return dsnMigrator(dsn)
}

type dsnMigrator string

func (m dsnMigrator) Up() error { return migrations.Up(string(m)) }
func (m dsnMigrator) Down(steps int) error { return migrations.Down(string(m), steps) }
func (m dsnMigrator) Version() (uint, bool, error) { return migrations.Version(string(m)) }

// MigrateCommand runs "up", "down [steps]" or "version" and returns an exit code.
func MigrateCommand(m Migrator, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: migrate up | down [steps] | version")
		return 2
	}
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			fmt.Fprintf(stderr, "migrate up: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "migrations applied")
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(stderr, "migrate down: invalid steps %q\n", args[1])
				return 2
			}
			steps = n
		}
		if err := m.Down(steps); err != nil {
			fmt.Fprintf(stderr, "migrate down: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "rolled back %d migration(s)\n", steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			fmt.Fprintf(stderr, "migrate version: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "version %d dirty=%t\n", version, dirty)
	default:
		fmt.Fprintf(stderr, "migrate: unknown command %q\n", args[0])
		return 2
	}
	return 0
}
