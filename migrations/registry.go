package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	fitsync "github.com/goliatone/go-fitsync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "data/sql/migrations"
)

// Tree is the migration directory of one SQL dialect. Postgres files live at
// the root, sqlite files in the sqlite subdirectory.
type Tree struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, tree Tree) error

// Trees resolves the per-dialect trees under root, or under the embedded
// migrations when root is nil. Each tree must hold at least one up file.
func Trees(root fs.FS) ([]Tree, error) {
	if root == nil {
		root = fitsync.GetMigrationsFS()
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	trees := []Tree{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/" + DialectSQLite, FS: sqliteFS},
	}
	for _, tree := range trees {
		matches, globErr := fs.Glob(tree.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", tree.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", tree.Dialect, tree.Path)
		}
	}
	return trees, nil
}

// Register hands the embedded tree of every requested dialect to register.
// No dialects means all of them.
func Register(ctx context.Context, register RegisterFunc, dialects ...string) ([]Tree, error) {
	if register == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	trees, err := Trees(nil)
	if err != nil {
		return nil, err
	}
	wanted := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		if dialect = strings.TrimSpace(strings.ToLower(dialect)); dialect != "" && !slices.Contains(wanted, dialect) {
			wanted = append(wanted, dialect)
		}
	}

	registered := []Tree{}
	for _, tree := range trees {
		if len(wanted) > 0 && !slices.Contains(wanted, tree.Dialect) {
			continue
		}
		if err := register(ctx, tree); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", tree.Dialect, tree.Path, err)
		}
		registered = append(registered, tree)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no tree matches dialects %v", wanted)
	}
	return registered, nil
}

// RegisterDialect hands only the tree matching driver to register,
// typically a persistence client's RegisterSQLMigrations.
func RegisterDialect(ctx context.Context, driver string, register func(fsys fs.FS)) (Tree, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return Tree{}, err
	}
	if register == nil {
		return Tree{}, fmt.Errorf("migrations: register function is required")
	}
	trees, err := Register(ctx, func(_ context.Context, tree Tree) error {
		register(tree.FS)
		return nil
	}, dialect)
	if err != nil {
		return Tree{}, err
	}
	return trees[0], nil
}

// DialectForDriver maps a database/sql driver name to a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "postgresql", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}
