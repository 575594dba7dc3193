/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Seednode/moviechain/moviedb"
)

// Kind is the type of answer a link holds, or the type the next turn expects.
type Kind int

const (
	KindAny Kind = iota
	KindMovie
	KindPerson
)

func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindPerson:
		return "person"
	default:
		return "any"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "movie":
		*k = KindMovie
	case "person", "actor":
		*k = KindPerson
	case "any", "":
		*k = KindAny
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSetting, b)
	}

	return nil
}

func (k Kind) opposite() Kind {
	switch k {
	case KindMovie:
		return KindPerson
	case KindPerson:
		return KindMovie
	default:
		return KindAny
	}
}

// Link is one element of a chain, and one search result. It is implemented
// only by MovieLink and PersonLink.
type Link interface {
	Kind() Kind
	ID() string
	// Name is the bare title or name used in messages.
	Name() string
	// Label is the name as shown in result lists.
	Label() string
	// Detail is secondary text: genres for movies, known-for titles for people.
	Detail() string

	sealed()
}

type MovieLink struct {
	Movie moviedb.Movie
}

func (MovieLink) Kind() Kind { return KindMovie }
func (l MovieLink) ID() string { return l.Movie.ID }
func (l MovieLink) Name() string { return l.Movie.Title }
func (l MovieLink) Label() string { return l.Movie.DisplayTitle() }
func (l MovieLink) Detail() string { return strings.Join(l.Movie.Genres, ", ") }
func (MovieLink) sealed() {}

func (l MovieLink) MarshalJSON() ([]byte, error) {
	return json.Marshal(RefOf(l))
}

type PersonLink struct {
	Person moviedb.Person
}

func (PersonLink) Kind() Kind { return KindPerson }
func (l PersonLink) ID() string { return l.Person.ID }
func (l PersonLink) Name() string { return l.Person.Name }
func (l PersonLink) Label() string { return l.Person.Name }
func (l PersonLink) Detail() string { return l.Person.KnownFor }
func (PersonLink) sealed() {}

func (l PersonLink) MarshalJSON() ([]byte, error) {
	return json.Marshal(RefOf(l))
}

// Ref is the flattened wire form of a Link.
type Ref struct {
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

func RefOf(l Link) Ref {
	return Ref{
		Kind:   l.Kind(),
		ID:     l.ID(),
		Name:   l.Name(),
		Label:  l.Label(),
		Detail: l.Detail(),
	}
}
