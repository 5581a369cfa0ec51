package membership

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Seed is the JSON document accepted by LoadSeed:
//
//	{"users": ["u1", "u2"], "groups": [{"id": "g1", "owner": "u1", "members": ["u2"]}]}
type Seed struct {
	Users  []string    `json:"users"`
	Groups []SeedGroup `json:"groups"`
}

// SeedGroup is one group of a Seed.
type SeedGroup struct {
	ID      string   `json:"id"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

// LoadSeed decodes a Seed from r into s.
func (s *Static) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("membership: decode seed: %w", err)
	}
	for _, g := range seed.Groups {
		if g.ID == "" || g.Owner == "" {
			return fmt.Errorf("membership: seed group needs id and owner")
		}
	}

	s.AddUser(seed.Users...)
	for _, g := range seed.Groups {
		s.AddGroup(g.ID, g.Owner, g.Members...)
	}
	return nil
}

// LoadSeedFile opens path and loads it with LoadSeed.
func (s *Static) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("membership: open seed: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}
