package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joe/dirsync/internal/schedule"
)

// TemplateExt is the extension that marks a portable sync template
// file. Import rejects anything else so a template is never confused
// with generic JSON.
const TemplateExt = ".aerosync.json"

// TemplateSchemaVersion is the supported template document version.
const TemplateSchemaVersion = 1

// PathPattern is one (local, remote) root association carried by a
// template.
type PathPattern struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Template is the portable form of a sync setup: a profile plus path
// patterns, excludes, and an optional schedule.
type Template struct {
	SchemaVersion   int                `json:"schema_version"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	CreatedBy       string             `json:"created_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at,omitempty"`
	PathPatterns    []PathPattern      `json:"path_patterns"`
	Profile         Profile            `json:"profile"`
	ExcludePatterns []string           `json:"exclude_patterns,omitempty"`
	Schedule        *schedule.Schedule `json:"schedule,omitempty"`
}

// NewTemplate wraps a profile into an exportable template.
func NewTemplate(name string, p Profile, patterns []PathPattern, sched *schedule.Schedule) Template {
	return Template{
		SchemaVersion:   TemplateSchemaVersion,
		Name:            name,
		CreatedAt:       time.Now().UTC(),
		PathPatterns:    patterns,
		Profile:         p,
		ExcludePatterns: p.ExcludePatterns,
		Schedule:        sched,
	}
}

// WriteTemplate exports a template to path, which must end in
// TemplateExt.
func WriteTemplate(path string, t Template) error {
	if !strings.HasSuffix(path, TemplateExt) {
		return fmt.Errorf("template files must use the %s extension", TemplateExt)
	}

	if t.SchemaVersion == 0 {
		t.SchemaVersion = TemplateSchemaVersion
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize template: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}

	return nil
}

// ReadTemplate imports a template from path, checking the extension
// and schema version.
func ReadTemplate(path string) (Template, error) {
	if !strings.HasSuffix(path, TemplateExt) {
		return Template{}, fmt.Errorf("not a sync template: expected %s extension", TemplateExt)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("failed to read template: %w", err)
	}

	var t Template

	if err := json.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("failed to parse template: %w", err)
	}

	if t.SchemaVersion != TemplateSchemaVersion {
		return Template{}, fmt.Errorf("unsupported template schema version %d (want %d)", t.SchemaVersion, TemplateSchemaVersion)
	}

	if t.Name == "" {
		return Template{}, fmt.Errorf("template has no name")
	}

	return t, nil
}
