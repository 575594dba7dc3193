/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package moviedb

import "strconv"

// Movie is a row of the movies table. Optional columns are nil when the
// dataset has no value for them.
type Movie struct {
	ID     string   `json:"id" yaml:"id"`
	Title  string   `json:"title" yaml:"title"`
	Year   *int     `json:"year,omitempty" yaml:"year,omitempty"`
	Genres []string `json:"genres,omitempty" yaml:"genres,omitempty"`
	Rating *float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
	Votes  *int64   `json:"votes,omitempty" yaml:"votes,omitempty"`
}

func (m Movie) DisplayTitle() string {
	if m.Year == nil {
		return m.Title
	}

	return m.Title + " (" + strconv.Itoa(*m.Year) + ")"
}

// Person is an actor or actress. KnownFor is the comma-separated list of
// titles the dataset associates with them, if any.
type Person struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	KnownFor string `json:"known_for,omitempty" yaml:"known_for,omitempty"`
}

// Appearance records that a person was in a movie's credited cast.
type Appearance struct {
	MovieID  string `yaml:"movie"`
	PersonID string `yaml:"person"`
}

// Dataset is everything Build needs to produce a store.
type Dataset struct {
	Movies      []Movie      `yaml:"movies"`
	People      []Person     `yaml:"people"`
	Appearances []Appearance `yaml:"appearances"`
}

// Stats summarises the size of an opened store.
type Stats struct {
	Movies      int64 `json:"movies"`
	People      int64 `json:"people"`
	Appearances int64 `json:"appearances"`
}
