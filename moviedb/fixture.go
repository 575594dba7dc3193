package moviedb

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadFixture decodes a YAML dataset:
//
//	movies:
//	  - {id: tt1375666, title: Inception, year: 2010, votes: 2600000}
//	people:
//	  - {id: nm0000138, name: Leonardo DiCaprio}
//	appearances:
//	  - {movie: tt1375666, person: nm0000138}
func LoadFixture(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		if errors.Is(err, io.EOF) {
			return &ds, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	for i, m := range ds.Movies {
		if m.ID == "" || m.Title == "" {
			return nil, fmt.Errorf("fixture movie %d: id and title are required", i)
		}
	}

	for i, p := range ds.People {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("fixture person %d: id and name are required", i)
		}
	}

	return &ds, nil
}
