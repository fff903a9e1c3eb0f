package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var wordList = []string{
	"amber", "anchor", "aspen", "autumn", "basalt", "beacon", "birch", "bramble",
	"canyon", "cedar", "cinder", "cobalt", "comet", "coral", "delta", "dune",
	"ember", "fjord", "flint", "frost", "garnet", "glade", "granite", "harbor",
	"hazel", "heron", "indigo", "iris", "juniper", "kestrel", "lagoon", "lantern",
	"lichen", "marble", "meadow", "nebula", "nimbus", "obsidian", "onyx", "orchid",
	"pebble", "prairie", "quartz", "raven", "ridge", "saffron", "sequoia", "summit",
	"tundra", "umber", "valley", "willow", "zephyr", "zinnia",
}

// GeneratePassphrase returns words random dictionary words joined by '-'.
func GeneratePassphrase(words int) (string, error) {
	if words <= 0 {
		words = 4
	}
	max := big.NewInt(int64(len(wordList)))

	selected := make([]string, 0, words)
	for range words {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate passphrase: %w", err)
		}
		selected = append(selected, wordList[n.Int64()])
	}
	return strings.Join(selected, "-"), nil
}
