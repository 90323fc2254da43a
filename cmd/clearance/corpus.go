package main

import (
	"fmt"
	"os"

	"github.com/poiesic/clearance/core"
	"gopkg.in/yaml.v3"
)

// corpusFile is the seed format. JSON files parse too, since YAML is a
// superset of JSON.
type corpusFile struct {
	Documents []corpusDocument `yaml:"documents"`
}

type corpusDocument struct {
	Title       string   `yaml:"title"`
	Keywords    []string `yaml:"keywords"`
	Summary     string   `yaml:"summary"`
	Text        string   `yaml:"text"`
	Visibility  string   `yaml:"visibility"`
	Publication string   `yaml:"publication"`
	Unit        string   `yaml:"unit"`
	Uploader    string   `yaml:"uploader"`
}

func loadCorpus(path string) ([]*core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	if len(file.Documents) == 0 {
		return nil, fmt.Errorf("corpus %s has no documents", path)
	}

	docs := make([]*core.Document, 0, len(file.Documents))
	for i, d := range file.Documents {
		doc, err := d.toDocument()
		if err != nil {
			return nil, fmt.Errorf("document %d (%q): %w", i+1, d.Title, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (d corpusDocument) toDocument() (*core.Document, error) {
	if d.Visibility == "" {
		return nil, fmt.Errorf("visibility is required")
	}
	visibility, err := core.ParseVisibility(d.Visibility)
	if err != nil {
		return nil, err
	}
	publication := core.PublicationApproved
	if d.Publication != "" {
		if publication, err = core.ParsePublicationState(d.Publication); err != nil {
			return nil, err
		}
	}
	doc := &core.Document{
		Title:    d.Title,
		Keywords: d.Keywords,
		Summary:  d.Summary,
		Text:     d.Text,
		Access: core.AccessAttributes{
			Visibility:  visibility,
			OwningUnit:  d.Unit,
			Publication: publication,
			UploaderID:  d.Uploader,
		},
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
