package resolver

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geowarp/geowarp/internal/core"
)

//go:embed cities.yaml
var citiesYAML []byte

type offlineCity struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

type offlineDataset struct {
	Cities []offlineCity `yaml:"cities"`
}

// OfflineIndex answers lookups against the embedded city dataset. It is
// built once and read-only afterwards.
type OfflineIndex struct {
	cities map[string]offlineCity
}

// LoadOfflineIndex parses the embedded dataset. Entries with invalid
// coordinates fail the load rather than being skipped; the dataset
// ships with the binary and must be correct.
func LoadOfflineIndex() (*OfflineIndex, error) {
	var dataset offlineDataset
	if err := yaml.Unmarshal(citiesYAML, &dataset); err != nil {
		return nil, fmt.Errorf("parse offline dataset: %w", err)
	}
	if len(dataset.Cities) == 0 {
		return nil, fmt.Errorf("offline dataset is empty")
	}

	cities := make(map[string]offlineCity, len(dataset.Cities))
	for _, city := range dataset.Cities {
		key := core.NormalizeQuery(city.Name)
		if key == "" {
			return nil, fmt.Errorf("offline dataset entry has no name")
		}
		if !core.ValidCoordinate(city.Lat, city.Lon) {
			return nil, fmt.Errorf("offline dataset entry %q has invalid coordinates", city.Name)
		}
		cities[key] = city
	}

	return &OfflineIndex{cities: cities}, nil
}

// Find returns the offline entry matching the query, or nil.
func (o *OfflineIndex) Find(query string) *core.ResolvedPlace {
	if o == nil {
		return nil
	}

	city, ok := o.cities[core.NormalizeQuery(query)]
	if !ok {
		return nil
	}

	place, err := core.NewResolvedPlace(city.Name, city.Lat, city.Lon, time.Now().UTC())
	if err != nil {
		return nil
	}
	return place
}

// Has reports whether the query matches an offline entry.
func (o *OfflineIndex) Has(query string) bool {
	if o == nil {
		return false
	}
	_, ok := o.cities[core.NormalizeQuery(query)]
	return ok
}

// Len reports the number of offline entries.
func (o *OfflineIndex) Len() int {
	if o == nil {
		return 0
	}
	return len(o.cities)
}
