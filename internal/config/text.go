package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Text is a flat catalog of user-facing strings keyed by dotted name.
// Keys are case-insensitive because viper folds them to lower case.
type Text map[string]string

// Get returns the string for key, or an empty string.
func (t Text) Get(key string) string {
	return t[strings.ToLower(key)]
}

// Has reports whether the catalog defines key.
func (t Text) Has(key string) bool {
	_, ok := t[strings.ToLower(key)]
	return ok
}

// Labels returns the configured label catalog.
func Labels() Text { return catalog("labels") }

// Messages returns the configured message catalog.
func Messages() Text { return catalog("messages") }

func catalog(root string) Text {
	prefix := root + "."
	out := make(Text)
	for _, key := range viper.AllKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if value := viper.GetString(key); value != "" {
			out[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return out
}

var defaultLabels = map[string]string{
	"centerOnCity":             "Center on city",
	"myLocation":               "My location",
	"showMyLocation":           "Show my location",
	"showMyLocationPersistent": "Follow my location",

	"airQuality.sensorValues": "Sensor values",
	"airQuality.pm1":          "PM1",
	"airQuality.pm25":         "PM2.5",
	"airQuality.pm10":         "PM10",
	"airQuality.temperature":  "Temperature",
	"airQuality.aqi":          "AQI",
	"airQuality.lastUpdate":   "Last update",

	"parking.parkingFree":     "Free parking spot",
	"parking.parkingOccupied": "Occupied parking spot",
	"parking.name":            "Parking",
	"parking.number":          "Spot number",
	"parking.deepLinkWaze":    "Navigate with Waze",
	"parking.deepLinkMaps":    "Navigate with Google Maps",

	"transportation.direction":  "Direction",
	"transportation.lastUpdate": "Last update",
	"transportation.tkTimeAgo":  "{{TIME}} minutes ago",
	"transportation.identifier": "Vehicle",
	"transportation.speed":      "Speed",
	"transportation.tkSpeed":    "{{SPEED}} km/h",

	"wasteCollection.lastUpdate": "Last update",
}

var defaultMessages = map[string]string{
	"airQuality.title.healthy":         "Good",
	"airQuality.title.moderate":        "Moderate",
	"airQuality.title.sensitive":       "Unhealthy for sensitive groups",
	"airQuality.title.unhealthy":       "Unhealthy",
	"airQuality.title.veryUnhealthy":   "Very unhealthy",
	"airQuality.title.hazardous":       "Hazardous",
	"airQuality.message.healthy":       "Air quality is satisfactory.",
	"airQuality.message.moderate":      "Air quality is acceptable for most people.",
	"airQuality.message.sensitive":     "Sensitive groups may experience health effects.",
	"airQuality.message.unhealthy":     "Everyone may begin to experience health effects.",
	"airQuality.message.veryUnhealthy": "Health alert: everyone may experience serious effects.",
	"airQuality.message.hazardous":     "Health warning of emergency conditions.",

	"apiCall.error.missingUrl":                "The data API URL is not configured.",
	"location.error.unableToDetermine":        "Unable to determine your location.",
	"parking.error.unableToDetermineLocation": "Unable to determine the parking location.",
	"route.error.unableToDetermine":           "Unable to determine the route.",
	"dataset.error.unavailable":               "Data for this layer is currently unavailable.",
}
