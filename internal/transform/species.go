// Package transform maps PokéAPI pokemon documents onto store.Species.
//
// Everything here is pure: no I/O, no logging, no clock reads. Callers decide
// what to do with the returned warnings.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grimm00/pokedex-sub002/internal/store"
)

// Image variant names that are not taken verbatim from sprites.
const (
	ImageOfficialArtwork = "official_artwork"
	ImageHome            = "home"
)

// maxTypes is the most types a species carries.
const maxTypes = 2

// defaultImageOrder is the preference used to pick Species.DefaultImage.
// Variants not listed fall back to the lexicographically smallest name.
var defaultImageOrder = []string{"front_default", ImageOfficialArtwork, ImageHome, "front_shiny"}

// upstream stat name -> setter on the fixed stat block
var statFields = map[string]func(*store.Stats, int){
	"hp":              func(s *store.Stats, v int) { s.HP = v },
	"attack":          func(s *store.Stats, v int) { s.Attack = v },
	"defense":         func(s *store.Stats, v int) { s.Defense = v },
	"special-attack":  func(s *store.Stats, v int) { s.SpecialAttack = v },
	"special-defense": func(s *store.Stats, v int) { s.SpecialDefense = v },
	"speed":           func(s *store.Stats, v int) { s.Speed = v },
}

// ValidationError means the payload cannot produce a usable record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid species payload: %s: %s", e.Field, e.Reason)
}

// Warning flags a field that was missing or unusable but did not reject the
// record.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// Species converts a /pokemon/{id} document. id and name are required; a
// wrong type on height, weight or base_experience rejects the record. Missing
// types, abilities or stats only produce warnings.
func Species(raw map[string]any) (*store.Species, []Warning, error) {
	if raw == nil {
		return nil, nil, &ValidationError{Field: "payload", Reason: "empty document"}
	}

	id, ok := asInt(raw["id"])
	if !ok || id <= 0 {
		return nil, nil, &ValidationError{Field: "id", Reason: fmt.Sprintf("expected positive integer, got %v", raw["id"])}
	}

	name := strings.TrimSpace(extractString(raw, "name"))
	if name == "" {
		return nil, nil, &ValidationError{Field: "name", Reason: "missing or not a string"}
	}

	s := &store.Species{SpeciesID: id, Name: name}

	var err error
	if s.Height, err = optionalInt(raw, "height"); err != nil {
		return nil, nil, err
	}
	if s.Weight, err = optionalInt(raw, "weight"); err != nil {
		return nil, nil, err
	}
	if v, present := raw["base_experience"]; present && v != nil {
		exp, ok := asInt(v)
		if !ok {
			return nil, nil, &ValidationError{Field: "base_experience", Reason: fmt.Sprintf("expected integer, got %T", v)}
		}
		s.BaseExperience = &exp
	}

	var warnings []Warning

	s.Types, warnings = namedList(raw, "types", "type", warnings)
	if len(s.Types) > maxTypes {
		warnings = append(warnings, Warning{Field: "types", Message: fmt.Sprintf("expected at most %d, got %d", maxTypes, len(s.Types))})
	}
	s.Abilities, warnings = namedList(raw, "abilities", "ability", warnings)
	s.Stats, warnings = statBlock(raw, warnings)

	s.Images = images(extractMap(raw, "sprites"))
	s.DefaultImage = DefaultImage(s.Images)
	if len(s.Images) == 0 {
		warnings = append(warnings, Warning{Field: "sprites", Message: "no image variants"})
	}

	return s, warnings, nil
}

func optionalInt(raw map[string]any, key string) (int, error) {
	v, present := raw[key]
	if !present || v == nil {
		return 0, nil
	}
	n, ok := asInt(v)
	if !ok {
		return 0, &ValidationError{Field: key, Reason: fmt.Sprintf("expected integer, got %T %v", v, v)}
	}
	return n, nil
}

func namedList(raw map[string]any, key, ref string, warnings []Warning) ([]string, []Warning) {
	entries, ok := extractArray(raw, key)
	if !ok {
		return []string{}, append(warnings, Warning{Field: key, Message: "missing or not a list"})
	}

	names, dropped := slottedNames(entries, ref)
	if dropped > 0 {
		warnings = append(warnings, Warning{Field: key, Message: fmt.Sprintf("dropped %d malformed entries", dropped)})
	}
	if len(names) == 0 {
		warnings = append(warnings, Warning{Field: key, Message: "empty"})
	}
	return names, warnings
}

func statBlock(raw map[string]any, warnings []Warning) (store.Stats, []Warning) {
	var stats store.Stats

	entries, ok := extractArray(raw, "stats")
	if !ok {
		return stats, append(warnings, Warning{Field: "stats", Message: "missing or not a list"})
	}

	seen := make(map[string]bool, len(statFields))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		set, known := statFields[nameAt(entry, "stat")]
		if !known {
			continue
		}
		v, ok := asInt(entry["base_stat"])
		if !ok {
			continue
		}
		set(&stats, v)
		seen[nameAt(entry, "stat")] = true
	}

	var missing []string
	for name := range statFields {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		warnings = append(warnings, Warning{Field: "stats", Message: "missing " + strings.Join(missing, ", ")})
	}
	return stats, warnings
}

// images keeps every non-empty top-level sprite URL plus the official artwork
// and HOME renders nested under sprites.other.
func images(sprites map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range sprites {
		if url, ok := v.(string); ok && strings.TrimSpace(url) != "" {
			out[k] = url
		}
	}

	other := extractMap(sprites, "other")
	if url := extractString(extractMap(other, "official-artwork"), "front_default"); url != "" {
		out[ImageOfficialArtwork] = url
	}
	if url := extractString(extractMap(other, "home"), "front_default"); url != "" {
		out[ImageHome] = url
	}
	return out
}

// DefaultImage picks the display image deterministically from the variants.
func DefaultImage(variants map[string]string) string {
	for _, name := range defaultImageOrder {
		if url := variants[name]; url != "" {
			return url
		}
	}
	if len(variants) == 0 {
		return ""
	}

	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return variants[names[0]]
}
