package service

import (
	"fmt"
	"math/rand/v2"
)

// Candidate names follow the adjective-noun-NN shape so they stay memorable
// and pronounceable. With ~60 words per list and a two-digit suffix the space
// is ~324k names; collisions against the pool are rare and retried.

var adjectives = []string{
	"amber", "autumn", "azure", "bold", "brave", "breezy", "bright", "calm",
	"cedar", "clear", "coastal", "coral", "cosy", "crimson", "crystal", "daring",
	"dawn", "dusty", "eager", "early", "fancy", "fern", "floral", "gentle",
	"gilded", "golden", "grand", "green", "happy", "hazel", "honest", "ivory",
	"jade", "keen", "kind", "lively", "lucky", "lunar", "maple", "mellow",
	"misty", "noble", "north", "oaken", "ocean", "olive", "pearl", "proud",
	"quiet", "rosy", "rustic", "sandy", "silver", "snowy", "solar", "spring",
	"stone", "sunny", "swift", "urban", "velvet", "vivid", "warm", "willow",
}

var nouns = []string{
	"acre", "arbor", "atrium", "avenue", "bay", "beach", "bluff", "brook",
	"cabin", "canyon", "castle", "cliff", "cottage", "court", "cove", "creek",
	"dale", "delta", "dune", "estate", "field", "forge", "garden", "gate",
	"glen", "grove", "harbor", "haven", "heath", "hill", "hollow", "island",
	"lagoon", "lake", "landing", "lane", "lodge", "manor", "meadow", "mesa",
	"mill", "oasis", "orchard", "palace", "park", "pier", "plaza", "pond",
	"porch", "prairie", "quay", "ranch", "ridge", "river", "shore", "summit",
	"terrace", "tower", "trail", "vale", "valley", "villa", "vista", "wharf",
}

// randomName draws one adjective-noun-NN candidate uniformly at random.
func randomName() string {
	adjective := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s-%02d", adjective, noun, 10+rand.IntN(90))
}
