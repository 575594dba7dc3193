package chain

import (
	"fmt"

	"github.com/google/uuid"
)

// PlayerColors are assigned to players in roster order.
var PlayerColors = []string{
	"red",
	"blue",
	"green",
	"orange",
	"purple",
	"pink",
	"cyan",
	"yellow",
}

type Player struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color"`

	Lives      int  `json:"lives"`
	Eliminated bool `json:"eliminated"`
	Score      int  `json:"score"`

	// Links counts every link the player added; Movies and People split it
	// by kind.
	Links  int `json:"links"`
	Movies int `json:"movies"`
	People int `json:"people"`
}

func DefaultName(i int) string {
	return fmt.Sprintf("Player %d", i+1)
}

func newPlayer(i int) Player {
	return Player{
		ID:    uuid.New(),
		Name:  DefaultName(i),
		Color: PlayerColors[i%len(PlayerColors)],
	}
}

func (p *Player) reset(lives int) {
	p.Lives = lives
	p.Eliminated = false
	p.Score = 0
	p.Links = 0
	p.Movies = 0
	p.People = 0
}
