// Package output provides adapters for writing application output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"go.yaml.in/yaml/v3"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// Format selects how results are rendered.
type Format string

const (
	// FormatText renders human-readable lines.
	FormatText Format = "text"
	// FormatJSON renders indented JSON documents.
	FormatJSON Format = "json"
	// FormatYAML renders YAML documents.
	FormatYAML Format = "yaml"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", name)
	}
}

// Writer writes results to the configured output destination.
// By default, it writes text to stdout.
type Writer struct {
	out    io.Writer
	format Format

	label lipgloss.Style
	hash  lipgloss.Style
	miss  lipgloss.Style
}

// NewWriter creates a new Writer that writes to stdout in the given format.
func NewWriter(format Format) *Writer {
	return NewWriterWithOutput(os.Stdout, format)
}

// NewWriterWithOutput creates a new Writer with a custom output destination.
// Styles degrade to plain text when out is not a terminal.
func NewWriterWithOutput(out io.Writer, format Format) *Writer {
	r := lipgloss.NewRenderer(out)
	return &Writer{
		out:    out,
		format: format,
		label:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		hash:   r.NewStyle().Foreground(lipgloss.Color("214")),
		miss:   r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// commitDocument is a commit as it appears in an encoded find result.
type commitDocument struct {
	Hash      string `json:"hash" yaml:"hash"`
	ShortHash string `json:"short_hash" yaml:"short_hash"`
	Message   string `json:"message" yaml:"message"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
}

// findDocument is the JSON and YAML form of a find result. The found flags are
// always written, and a commit key is present only when its flag is true.
type findDocument struct {
	PointerFound  bool            `json:"pointer_found" yaml:"pointer_found"`
	PointerCommit *commitDocument `json:"pointer_commit,omitempty" yaml:"pointer_commit,omitempty"`
	VersionFound  bool            `json:"version_found" yaml:"version_found"`
	VersionCommit *commitDocument `json:"version_commit,omitempty" yaml:"version_commit,omitempty"`
}

func newFindDocument(result *domain.FindOutput) findDocument {
	var doc findDocument
	if result == nil {
		return doc
	}
	if p := result.PointerCommit; p != nil {
		doc.PointerFound = true
		doc.PointerCommit = &commitDocument{Hash: p.Hash, ShortHash: p.ShortHash(), Message: p.Message}
	}
	if v := result.VersionCommit; v != nil {
		doc.VersionFound = true
		doc.VersionCommit = &commitDocument{
			Hash:      v.Hash,
			ShortHash: v.ShortHash(),
			Message:   v.Message,
			Version:   v.Version,
		}
	}
	return doc
}

// WriteFindOutput writes the result of a find request.
func (w *Writer) WriteFindOutput(result *domain.FindOutput) error {
	if w.format != FormatText {
		return w.encode(newFindDocument(result))
	}

	if result == nil || result.PointerCommit == nil {
		return w.line(w.miss.Render("No commit on this branch includes the target commit."))
	}

	p := result.PointerCommit
	if err := w.line(w.label.Render("Pointer commit:") + " " + w.hash.Render(p.ShortHash()) + " " + p.Message); err != nil {
		return err
	}

	v := result.VersionCommit
	if v == nil {
		return w.line(w.miss.Render("No version commit follows " + p.ShortHash() + "."))
	}
	if err := w.line(w.label.Render("Version:") + " " + v.Version); err != nil {
		return err
	}
	return w.line(w.label.Render("Version commit:") + " " + w.hash.Render(v.ShortHash()) + " " + v.Message)
}

// WriteNames writes one name per line, e.g. branches or submodules.
func (w *Writer) WriteNames(names []string) error {
	if names == nil {
		names = []string{}
	}
	if w.format != FormatText {
		return w.encode(names)
	}
	for _, name := range names {
		if err := w.line(name); err != nil {
			return err
		}
	}
	return nil
}

// WriteCommits writes commit records, one per line in text mode.
func (w *Writer) WriteCommits(commits []domain.CommitRecord) error {
	if commits == nil {
		commits = []domain.CommitRecord{}
	}
	if w.format != FormatText {
		return w.encode(commits)
	}
	if len(commits) == 0 {
		return w.line(w.miss.Render("No matching commits."))
	}
	for _, c := range commits {
		if err := w.line(w.hash.Render(c.ShortHash()) + " " + c.Message); err != nil {
			return err
		}
	}
	return nil
}

// WriteVersions writes version commits as "version hash subject" lines in text mode.
func (w *Writer) WriteVersions(versions []domain.VersionCommit) error {
	if versions == nil {
		versions = []domain.VersionCommit{}
	}
	if w.format != FormatText {
		return w.encode(versions)
	}
	if len(versions) == 0 {
		return w.line(w.miss.Render("No version commits."))
	}
	for _, v := range versions {
		if err := w.line(w.label.Render(v.Version) + " " + w.hash.Render(v.ShortHash()) + " " + v.Message); err != nil {
			return err
		}
	}
	return nil
}

// WriteStatus writes the working tree status of the repository and its submodules.
func (w *Writer) WriteStatus(status *domain.TreeStatus) error {
	if w.format != FormatText {
		return w.encode(status)
	}

	if err := w.line(w.label.Render(status.Path+":") + " " + state(status.Dirty)); err != nil {
		return err
	}

	paths := make([]string, 0, len(status.Submodules))
	for path := range status.Submodules {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := w.line("  " + path + ": " + state(status.Submodules[path])); err != nil {
			return err
		}
	}
	return nil
}

func state(dirty bool) string {
	if dirty {
		return "uncommitted changes"
	}
	return "clean"
}

func (w *Writer) line(s string) error {
	_, err := fmt.Fprintln(w.out, s)
	return err
}

// encode writes v as a JSON or YAML document.
func (w *Writer) encode(v any) error {
	if w.format == FormatYAML {
		enc := yaml.NewEncoder(w.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml output: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json output: %w", err)
	}
	return nil
}
