package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFeed is one entry of the feeds file loaded at startup. Feeds present
// in the file but not in the database are registered; existing feeds are
// left untouched.
type SeedFeed struct {
	URL      string `yaml:"url"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
}

type seedFile struct {
	Feeds []SeedFeed `yaml:"feeds"`
}

// LoadSeedFeeds reads the YAML feeds file at path. A missing file is not an
// error; it returns an empty list so the server can start with no seeds.
func LoadSeedFeeds(path string) ([]SeedFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading feeds file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing feeds file: %w", err)
	}

	for i, feed := range f.Feeds {
		if feed.URL == "" {
			return nil, fmt.Errorf("feeds file entry %d has no url", i)
		}
	}
	return f.Feeds, nil
}
