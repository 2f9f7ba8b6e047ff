package portal

import "math/rand/v2"

// adjectives and animals are combined to produce a friendly per-session
// username, generated once per session rather than chosen by the user
// (spec.md §4.9). The wordlist itself has no external-library equivalent in
// the example pack, so this is stdlib math/rand/v2 — the pure-random-choice
// use case it's built for.
var adjectives = []string{
	"amber", "brisk", "cobalt", "drowsy", "eager", "faint", "gentle", "hollow",
	"indigo", "jagged", "keen", "lucid", "mellow", "nimble", "opal", "placid",
	"quiet", "rustic", "sable", "tidal", "umber", "vivid", "wistful", "zesty",
}

var animals = []string{
	"otter", "falcon", "badger", "heron", "lynx", "marten", "raven", "sparrow",
	"vole", "weasel", "curlew", "ermine", "gecko", "ibis", "jackal", "kestrel",
	"lemur", "mole", "newt", "owl", "pika", "quokka", "stoat", "tapir",
}

// GenerateUsername returns a random "adjective-animal" username.
func GenerateUsername() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + animals[rand.IntN(len(animals))]
}
