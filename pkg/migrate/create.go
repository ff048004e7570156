package migrate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pressly/goose/v3"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_]+`)

var sqlTemplate = template.Must(template.New("migration").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.CamelName}} ({{.Version}})
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- +goose StatementEnd
`))

// CreateSQLMigration writes <dir>/<YYYYMMDDHHMMSS>_<name>.sql from the
// project template and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := migrationSlug(name)
	if safe == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}

	goose.SetSequential(false)
	if err := goose.CreateWithTemplate(nil, dir, sqlTemplate, safe, "sql"); err != nil {
		return "", fmt.Errorf("create migration %q: %w", safe, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_"+safe+".sql"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("locate created migration %q: %v", safe, err)
	}
	// Versions are timestamps, so the lexically last match is the new file.
	return matches[len(matches)-1], nil
}

func migrationSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = unsafeNameChars.ReplaceAllString(slug, "_")
	return strings.Trim(slug, "_")
}
