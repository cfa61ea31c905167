// Package gallery holds the example (material, question) pairs offered next
// to the upload form.
package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("gallery: example not found")

// Example is one manifest entry. Material is a file name resolved against
// the materials directory unless absolute.
type Example struct {
	Material string `yaml:"material"`
	Question string `yaml:"question"`
}

// Builtin is the default set: ten book excerpts and five papers.
var Builtin = []Example{
	{Material: "The Three-Body Problem_section3.txt", Question: "Please describe the relationship among the roles in the book."},
	{Material: "Death’s End_section9.txt", Question: "Please tell me that what high-level idea the author want to indicate in this book."},
	{Material: "Death’s End_section12.txt", Question: "What responsibility do we as individuals have to make moral choices that benefit the greater good of humanity and the universe?"},
	{Material: "Journey to the West_section13.txt", Question: "How does Monkey's character change over the course of the journey?"},
	{Material: "Journey to the West_section33.txt", Question: "Please tell me that what high-level idea the author want to indicate in this book."},
	{Material: "Dream of the Red Chamber_section17.txt", Question: "Please tell me that what high-level idea the author want to indicate in this book."},
	{Material: "Harry Potter and the Philosophers Stone_section2.txt", Question: "Why doesn't Professor Snape seem to like Harry?"},
	{Material: "Harry Potter The Chamber of Secrets_section2.txt", Question: "Please describe the relationship among the roles in the book."},
	{Material: "Don Quixote_section3.txt", Question: "What theme does Don Quixote represent in the story?"},
	{Material: "The Lord Of The Rings 2 - The Two Towers_section3.txt", Question: "What does this passage reveal about Gandalf's character and role?"},
	{Material: "paper_1.txt", Question: "What are the main contributions and novelties of this work?"},
	{Material: "paper_2.txt", Question: "Please summarize the paper in one paragraph."},
	{Material: "paper_3.txt", Question: "What are some limitations of the proposed 3DGNN method?"},
	{Material: "paper_4.txt", Question: "What is the main advantage of the authors' energy optimization based texture design method compared to other existing texture synthesis techniques?"},
	{Material: "paper_5.txt", Question: "What are some best practices for effectively eliciting software requirements?"},
}

type manifest struct {
	Examples []Example `yaml:"examples"`
}

// Entry is an example resolved on disk. Index is stable across reloads of
// the same manifest and is what /examples/:index refers to.
type Entry struct {
	Index     int
	Name      string
	Path      string
	Question  string
	Available bool
}

type Gallery struct {
	Dir     string
	entries []Entry
}

// Load resolves examples against dir. An empty manifestPath selects
// Builtin.
func Load(dir, manifestPath string) (*Gallery, error) {
	examples := Builtin
	if manifestPath != "" {
		raw, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("read examples manifest: %w", err)
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse examples manifest: %w", err)
		}
		examples = m.Examples
	}

	g := &Gallery{Dir: dir, entries: make([]Entry, 0, len(examples))}
	for i, ex := range examples {
		if strings.TrimSpace(ex.Material) == "" {
			return nil, fmt.Errorf("example %d: material is required", i)
		}
		path := ex.Material
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		info, err := os.Stat(path)
		g.entries = append(g.entries, Entry{
			Index:     i,
			Name:      filepath.Base(path),
			Path:      path,
			Question:  ex.Question,
			Available: err == nil && info.Mode().IsRegular(),
		})
	}
	return g, nil
}

// Available returns the examples whose material exists, in manifest order.
func (g *Gallery) Available() []Entry {
	out := make([]Entry, 0, len(g.entries))
	for _, e := range g.entries {
		if e.Available {
			out = append(out, e)
		}
	}
	return out
}

// Missing lists the material paths that could not be found.
func (g *Gallery) Missing() []string {
	var out []string
	for _, e := range g.entries {
		if !e.Available {
			out = append(out, e.Path)
		}
	}
	return out
}

func (g *Gallery) Len() int { return len(g.entries) }

// Get returns the available example at index.
func (g *Gallery) Get(index int) (Entry, error) {
	if index < 0 || index >= len(g.entries) || !g.entries[index].Available {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return g.entries[index], nil
}
