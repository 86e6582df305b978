package geo

import (
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection exports markers as GeoJSON points. Fields are copied
// into the feature properties next to the marker identity and style.
func FeatureCollection(markers []core.Marker) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := geojson.NewFeature(Point(m.Position))
		f.ID = m.ID
		for k, v := range m.Fields {
			f.Properties[k] = v
		}
		f.Properties["id"] = m.ID
		f.Properties["overlay"] = m.Overlay
		f.Properties["title"] = m.Popup.Title
		f.Properties["color"] = m.Style.Background
		f.Properties["visible"] = m.Visible
		if !m.DateUpdated.IsZero() {
			f.Properties["dateUpdated"] = m.DateUpdated.UTC().Format("2006-01-02T15:04:05Z")
		}
		fc.Append(f)
	}
	return fc
}
