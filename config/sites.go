package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"temple-safety/models"
)

//go:embed sites.yaml
var defaultSites []byte

type SiteSeed struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Location         string            `yaml:"location"`
	Capacity         int               `yaml:"capacity"`
	CurrentOccupancy int               `yaml:"currentOccupancy"`
	Status           models.SiteStatus `yaml:"status"`
}

type siteCatalog struct {
	Sites []SiteSeed `yaml:"sites"`
}

// LoadSites reads the seed catalog from path, or the built-in catalog of
// reference temples when path is empty.
func LoadSites(path string) ([]SiteSeed, error) {
	data := defaultSites
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sites file: %w", err)
		}
	}
	return ParseSites(data)
}

func ParseSites(data []byte) ([]SiteSeed, error) {
	var catalog siteCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse sites: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Sites))
	var errs []error
	for i := range catalog.Sites {
		s := &catalog.Sites[i]
		if s.Status == "" {
			s.Status = models.SiteNormal
		}
		switch {
		case s.ID == "" || s.Name == "":
			errs = append(errs, fmt.Errorf("site %d: id and name are required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("site %s: duplicate id", s.ID))
		case s.Capacity <= 0:
			errs = append(errs, fmt.Errorf("site %s: capacity must be positive", s.ID))
		case s.CurrentOccupancy < 0:
			errs = append(errs, fmt.Errorf("site %s: occupancy must not be negative", s.ID))
		case !s.Status.Valid():
			errs = append(errs, fmt.Errorf("site %s: unknown status %q", s.ID, s.Status))
		}
		seen[s.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return catalog.Sites, nil
}
