package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/dining-presence-go/internal/models"
)

// LoadHalls reads the hall configuration. Files ending in .geojson hold a
// FeatureCollection with one Polygon feature per floor; anything else is a
// JSON array of halls.
func LoadHalls(path string) ([]models.Hall, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".geojson") {
		return ParseGeoJSONHalls(data)
	}

	var halls []models.Hall
	if err := json.Unmarshal(data, &halls); err != nil {
		return nil, fmt.Errorf("decode halls: %w", err)
	}
	return halls, nil
}

// ParseGeoJSONHalls groups polygon features into halls by their "hall"
// property, keeping the order in which halls and floors first appear.
// Optional properties: floor, eleStart, eleEnd, color.
func ParseGeoJSONHalls(data []byte) ([]models.Hall, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	var halls []models.Hall
	pos := make(map[string]int)
	for i, f := range fc.Features {
		name := f.Properties.MustString("hall", "")
		if name == "" {
			return nil, fmt.Errorf("feature %d: missing hall property", i)
		}

		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || len(poly) == 0 {
			return nil, fmt.Errorf("feature %d (%s): want a Polygon, got %s", i, name, geometryType(f.Geometry))
		}
		ring := make([][2]float64, len(poly[0]))
		for j, p := range poly[0] {
			ring[j] = [2]float64(p)
		}

		floor := models.Floor{
			Poly:     ring,
			EleStart: optionalFloat(f.Properties, "eleStart"),
			EleEnd:   optionalFloat(f.Properties, "eleEnd"),
		}
		if v, ok := f.Properties["floor"].(string); ok {
			floor.Name = &v
		}

		idx, seen := pos[name]
		if !seen {
			idx = len(halls)
			pos[name] = idx
			halls = append(halls, models.Hall{Name: name})
		}
		if c := f.Properties.MustString("color", ""); c != "" && halls[idx].Color == "" {
			halls[idx].Color = c
		}
		halls[idx].Floors = append(halls[idx].Floors, floor)
	}
	return halls, nil
}

func optionalFloat(props geojson.Properties, key string) *float64 {
	if v, ok := props[key].(float64); ok {
		return &v
	}
	return nil
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "no geometry"
	}
	return g.GeoJSONType()
}
