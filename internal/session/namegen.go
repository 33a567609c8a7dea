package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Words for generated session names.
var (
	nameAdjectives = []string{
		"amber", "arctic", "azure", "brisk", "bronze", "calm", "cobalt",
		"crimson", "dusky", "eager", "emerald", "frosty", "gentle", "golden",
		"hazy", "indigo", "jade", "keen", "lunar", "misty", "nimble", "opal",
		"quiet", "rapid", "rusty", "scarlet", "silver", "solar", "steady",
		"swift", "tidal", "vivid", "windy",
	}
	nameNouns = []string{
		"anvil", "beacon", "canal", "comet", "delta", "ember", "falcon",
		"fjord", "forge", "harbor", "heron", "island", "kestrel", "lantern",
		"meadow", "mesa", "orbit", "otter", "pebble", "quarry", "raven",
		"reef", "ridge", "signal", "spruce", "summit", "tide", "tunnel",
		"valley", "willow", "wren",
	}
)

// GenerateSessionName returns a random "adjective-noun" name.
func GenerateSessionName() string {
	return nameAdjectives[cryptoRandInt(len(nameAdjectives))] + "-" +
		nameNouns[cryptoRandInt(len(nameNouns))]
}

// GenerateUniqueName returns a generated name not in taken. After ten
// collisions it appends a timestamp.
func GenerateUniqueName(taken map[string]bool) string {
	for range 10 {
		if name := GenerateSessionName(); !taken[name] {
			return name
		}
	}
	return fmt.Sprintf("%s-%d", GenerateSessionName(), time.Now().Unix())
}

// cryptoRandInt returns a random int in [0, max).
func cryptoRandInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(max))
	}
	return int(n.Int64())
}
