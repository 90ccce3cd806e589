package processor

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// cteWords are the readable CTE names handed out with HumanNames.
var cteWords = []string{
	"abundant", "agile", "amber", "ancient", "balmy", "bashful", "bold", "brave",
	"breezy", "brisk", "calm", "cheerful", "chilly", "clever", "cosmic", "crimson",
	"curious", "dapper", "dazzling", "eager", "earnest", "elegant", "fancy", "fearless",
	"festive", "fluffy", "friendly", "gentle", "giddy", "glossy", "golden", "graceful",
	"grumpy", "handy", "hasty", "hearty", "humble", "icy", "jolly", "juicy",
	"keen", "kindly", "lively", "lucky", "mellow", "merry", "mighty", "misty",
	"modest", "nimble", "noble", "odd", "plucky", "polite", "proud", "puzzled",
	"quick", "quiet", "quirky", "rapid", "rustic", "sandy", "shiny", "silent",
	"silly", "sleek", "spicy", "sturdy", "sunny", "swift", "tidy", "tranquil",
	"twinkly", "upbeat", "vivid", "wacky", "wary", "witty", "yellow", "zany",
}

// nameMap assigns CTE names from QueryDatasource identifiers. The same
// identifier always receives the same name within one map.
type nameMap struct {
	human bool
	names map[string]string
	used  map[string]bool
}

func newNameMap(human bool) *nameMap {
	return &nameMap{human: human, names: map[string]string{}, used: map[string]bool{}}
}

func (m *nameMap) name(identifier string) string {
	if n, ok := m.names[identifier]; ok {
		return n
	}
	var n string
	if m.human {
		n = m.humanName(identifier)
	} else {
		n = safeName(identifier)
	}
	m.names[identifier] = n
	m.used[n] = true
	return n
}

// humanName probes the word list from a hash of the identifier, adding a
// numeric suffix once every word of a round is taken.
func (m *nameMap) humanName(identifier string) string {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	start := int(h.Sum32() % uint32(len(cteWords)))
	for round := 0; ; round++ {
		suffix := ""
		if round > 0 {
			suffix = "_" + strconv.Itoa(round)
		}
		for i := range cteWords {
			candidate := cteWords[(start+i)%len(cteWords)] + suffix
			if !m.used[candidate] {
				return candidate
			}
		}
	}
}

var nameReplacer = strings.NewReplacer("<", "", ">", "", ",", "_", ".", "_", " ", "_", "-", "_")

// maxNameLength keeps names under the postgres identifier limit.
const maxNameLength = 60

func safeName(identifier string) string {
	n := nameReplacer.Replace(identifier)
	if len(n) <= maxNameLength {
		return n
	}
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return n[:maxNameLength-11] + "_" + strconv.FormatUint(uint64(h.Sum32()), 16)
}
