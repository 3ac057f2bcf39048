// Package importer reads visit files: YAML documents listing places, checked
// against an embedded CUE schema before they become records.
package importer

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"travellog/internal/travellog"
)

//go:embed schema.cue
var schemaSource string

//go:embed sample.yaml
var sample []byte

// Visit is one entry of a visit file.
type Visit struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Country   string `yaml:"country" json:"country"`
	City      string `yaml:"city" json:"city"`
	VisitedOn string `yaml:"visited_on" json:"visited_on"`
}

// File is a parsed visit file.
type File struct {
	Owner  string  `yaml:"owner,omitempty" json:"owner,omitempty"`
	Visits []Visit `yaml:"visits" json:"visits"`
}

// Sample returns the built-in sample file.
func Sample() io.Reader {
	return bytes.NewReader(sample)
}

// Parse decodes a visit file and validates it against the schema. Unknown
// keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("visit file is empty")
		}
		return nil, fmt.Errorf("decoding visit file: %w", err)
	}
	if f.Visits == nil {
		f.Visits = []Visit{}
	}

	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func validate(f *File) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	doc := ctx.Encode(f)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encoding visit file: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#File")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid visit file: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Records turns the file's visits into validated records for owner. Every
// visit is checked before any record is returned.
func (f *File) Records(owner travellog.OwnerKey, now time.Time) ([]travellog.Record, error) {
	recs := make([]travellog.Record, 0, len(f.Visits))
	for i, v := range f.Visits {
		visited, err := travellog.ParseDate(v.VisitedOn)
		if err != nil {
			return nil, fmt.Errorf("visit %d: %w", i+1, err)
		}
		rec := travellog.NewRecord(owner, v.Country, v.City, visited)
		rec.ID = v.ID
		if err := travellog.Validate(rec, now); err != nil {
			return nil, fmt.Errorf("visit %d: %w", i+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
