package backfill

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

// Targets is the batch file: every chat of every listed profile is scraped.
//
//	concurrency: 4
//	targets:
//	  - profile: 0b5c...
//	    update_only: true
//	    chats:
//	      - https://onlyfans.com/my/chats/chat/123/
type Targets struct {
	Concurrency int      `yaml:"concurrency"`
	Targets     []Target `yaml:"targets"`
}

// Target is one browser profile and the chats to scrape with it.
type Target struct {
	Profile    string   `yaml:"profile"`
	UpdateOnly bool     `yaml:"update_only"`
	Chats      []string `yaml:"chats"`
}

// LoadTargets reads and validates a targets file.
func LoadTargets(path string) (Targets, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return Targets{}, fmt.Errorf("read targets: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets decodes a targets document.
func ParseTargets(data []byte) (Targets, error) {
	var t Targets
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Targets{}, fmt.Errorf("parse targets: %w", err)
	}
	for i, target := range t.Targets {
		if target.Profile == "" {
			return Targets{}, fmt.Errorf("target %d: profile is required", i)
		}
		if len(target.Chats) == 0 {
			return Targets{}, fmt.Errorf("target %d (%s): no chats", i, target.Profile)
		}
	}
	return t, nil
}

// byProfile groups requests per profile, keeping file order. Duplicate
// chats of the same profile are dropped.
func (t Targets) byProfile() [][]scrape.Request {
	index := make(map[string]int)
	seen := make(map[string]bool)
	var groups [][]scrape.Request

	for _, target := range t.Targets {
		i, ok := index[target.Profile]
		if !ok {
			i = len(groups)
			index[target.Profile] = i
			groups = append(groups, nil)
		}
		for _, chat := range target.Chats {
			key := jobKey(target.Profile, chat)
			if seen[key] {
				continue
			}
			seen[key] = true
			groups[i] = append(groups[i], scrape.Request{
				ProfileID:  target.Profile,
				ChatURL:    chat,
				UpdateOnly: target.UpdateOnly,
			})
		}
	}
	return groups
}

func jobKey(profile, chat string) string {
	return profile + " " + chat
}
