package config

import (
	"context"
	"fmt"
	"net/url"

	"agrocast/transport"
)

// GeocodeBaseURL is the Open-Meteo geocoding host used by setup.
const GeocodeBaseURL = "https://geocoding-api.open-meteo.com"

// Geocode resolves a city and ISO country code to coordinates.
func Geocode(ctx context.Context, client *transport.Client, city, countryCode string) (lat, lon float64, err error) {
	path := fmt.Sprintf("/v1/search?name=%s&country=%s&count=1&language=en&format=json",
		url.QueryEscape(city), url.QueryEscape(countryCode))

	type result struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}

	res, err := transport.GetJSON[result](ctx, client, path)
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	if len(res.Results) == 0 {
		return 0, 0, fmt.Errorf("city not found: %s, %s", city, countryCode)
	}
	return res.Results[0].Latitude, res.Results[0].Longitude, nil
}
