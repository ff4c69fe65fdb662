package store

import "time"

// Species is one catalog entity as stored in the primary database.
type Species struct {
	SpeciesID      int               `json:"species_id" db:"species_id"`
	Name           string            `json:"name" db:"name"`
	Height         int               `json:"height" db:"height"` // decimetres
	Weight         int               `json:"weight" db:"weight"` // hectograms
	BaseExperience *int              `json:"base_experience,omitempty" db:"base_experience"`
	Types          []string          `json:"types" db:"types"`
	Abilities      []string          `json:"abilities" db:"abilities"`
	Stats          Stats             `json:"stats" db:"stats"`
	Images         map[string]string `json:"images" db:"images"`
	DefaultImage   string            `json:"default_image,omitempty" db:"default_image"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// Stats is the fixed base stat block.
type Stats struct {
	HP             int `json:"hp"`
	Attack         int `json:"attack"`
	Defense        int `json:"defense"`
	SpecialAttack  int `json:"special_attack"`
	SpecialDefense int `json:"special_defense"`
	Speed          int `json:"speed"`
}

// Total is the sum of all base stats.
func (s Stats) Total() int {
	return s.HP + s.Attack + s.Defense + s.SpecialAttack + s.SpecialDefense + s.Speed
}
