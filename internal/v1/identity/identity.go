// Package identity derives the cosmetic RoomIdentity shown in a room's
// header from its room code, deterministically and without storage.
package identity

import "hash/fnv"

// RoomIdentity is the deterministic cosmetic dressing for a room,
// generated once from its code and then persisted immutably on RoomState.
type RoomIdentity struct {
	HypeName     string  `json:"hypeName"`
	Color        string  `json:"color"`
	Pattern      string  `json:"pattern"`
	BaseRotation float64 `json:"baseRotation"`
}

var hypeWords = []string{
	"Blazing", "Lucky", "Wild", "Golden", "Rowdy", "Electric", "Velvet",
	"Thunder", "Crimson", "Sly", "Hyper", "Cosmic", "Rogue", "Radiant",
	"Feral", "Neon", "Savage", "Glimmer", "Iron", "Turbo",
}

var hypeNouns = []string{
	"Dice", "Rollers", "Cup", "Streak", "Table", "Tower", "Rumble",
	"League", "Crew", "Circuit", "Parlor", "Pit", "Arena", "Den",
	"Syndicate", "Outfit", "Gambit", "Brigade", "Clique", "Hustle",
}

var colorPalette = []string{
	"#E63946", "#F1A208", "#2A9D8F", "#457B9D", "#9B5DE5",
	"#F15BB5", "#00BBF9", "#00F5D4", "#FEE440", "#8338EC",
}

var patterns = []string{
	"dots", "stripes", "checker", "confetti", "chevron", "diamonds",
}

// Generate derives a RoomIdentity purely from code: two calls with the same
// code always produce the same identity, and distinct codes overwhelmingly
// produce distinct identities.
func Generate(code string) RoomIdentity {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	base := h.Sum32()

	// Mix a second hash so the four fields don't all key off the same bits.
	h2 := fnv.New32a()
	_, _ = h2.Write([]byte(code + "#rotation"))
	rotationSeed := h2.Sum32()

	word := hypeWords[int(base)%len(hypeWords)]
	noun := hypeNouns[int(base/uint32(len(hypeWords)))%len(hypeNouns)]

	color := colorPalette[int(base)%len(colorPalette)]
	pattern := patterns[int(base/uint32(len(colorPalette)))%len(patterns)]

	// Map rotationSeed into [-0.7, 0.7].
	const span = 1.4
	frac := float64(rotationSeed%10000) / 10000.0
	rotation := -0.7 + frac*span

	return RoomIdentity{
		HypeName:     word + " " + noun,
		Color:        color,
		Pattern:      pattern,
		BaseRotation: rotation,
	}
}
