package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// WeatherReport is the weather capability's response.
type WeatherReport struct {
	Temperature float64 `json:"temperature"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Code        int     `json:"code"`
	// Condition is a short key ("clear", "cloudy", "rain", ...) the
	// composer localizes.
	Condition string `json:"condition"`
}

// WeatherClient fetches current conditions from an Open-Meteo compatible
// forecast endpoint. Args: "lat", "lon" (float64).
type WeatherClient struct {
	baseURL string
	http    *http.Client
}

// NewWeatherClient creates a weather capability. httpClient may be nil.
func NewWeatherClient(baseURL string, httpClient *http.Client) *WeatherClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WeatherClient{baseURL: baseURL, http: httpClient}
}

// Name implements Capability.
func (w *WeatherClient) Name() string { return Weather }

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
	Daily struct {
		Max []float64 `json:"temperature_2m_max"`
		Min []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Call implements Capability.
func (w *WeatherClient) Call(ctx context.Context, args Args) (any, error) {
	lat, ok1 := args["lat"].(float64)
	lon, ok2 := args["lon"].(float64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: weather needs float64 lat and lon", ErrBadArgs)
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("daily", "temperature_2m_max,temperature_2m_min")
	q.Set("forecast_days", "1")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather request: status %d", resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}
	report := WeatherReport{
		Temperature: body.Current.Temperature,
		Code:        body.Current.WeatherCode,
		Condition:   condition(body.Current.WeatherCode),
	}
	if len(body.Daily.Max) > 0 {
		report.High = body.Daily.Max[0]
	}
	if len(body.Daily.Min) > 0 {
		report.Low = body.Daily.Min[0]
	}
	return report, nil
}

// condition maps WMO weather codes to coarse condition keys.
func condition(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 67, code >= 80 && code <= 82:
		return "rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "storm"
	default:
		return "cloudy"
	}
}
