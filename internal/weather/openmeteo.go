package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/awaistahir/solar-run/internal/engine"
)

const openMeteoAPIBase = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient fetches hourly forecasts from the Open-Meteo API
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewOpenMeteoClient creates a client; a zero timeout means 30s
func NewOpenMeteoClient(timeout time.Duration) *OpenMeteoClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    openMeteoAPIBase,
	}
}

// WithBaseURL points the client at another endpoint
func (c *OpenMeteoClient) WithBaseURL(base string) *OpenMeteoClient {
	c.baseURL = base
	return c
}

// openMeteoResponse is requested in GMT so every timestamp is UTC.
// Values can be null at the edges of the forecast horizon.
type openMeteoResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time               []string   `json:"time"`
		CloudCover         []*float64 `json:"cloud_cover"`
		Temperature2m      []*float64 `json:"temperature_2m"`
		ShortwaveRadiation []*float64 `json:"shortwave_radiation"`
	} `json:"hourly"`
}

// Forecast fetches hourly samples covering days whole days from the start of
// from's day, plus the hour after, so the last slot is bracketed.
func (c *OpenMeteoClient) Forecast(ctx context.Context, loc engine.Location, from time.Time, days int) ([]engine.WeatherSample, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days %d must be >= 1", engine.ErrInvalidConfiguration, days)
	}
	start := engine.StartOfDay(from)
	end := start.AddDate(0, 0, days)

	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	params.Add("hourly", "cloud_cover,temperature_2m,shortwave_radiation")
	params.Add("timezone", "GMT")
	params.Add("start_date", start.UTC().Format("2006-01-02"))
	params.Add("end_date", end.UTC().Format("2006-01-02"))

	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("open-meteo returned status %d: %s", resp.StatusCode, string(body))
	}

	var meteoResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&meteoResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return meteoResp.samples(start, end), nil
}

// samples converts the hourly arrays, dropping hours without cloud or
// temperature and anything outside [start, end].
func (r openMeteoResponse) samples(start, end time.Time) []engine.WeatherSample {
	h := r.Hourly
	out := make([]engine.WeatherSample, 0, len(h.Time))
	for i, ts := range h.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, time.UTC)
		if err != nil {
			continue
		}
		if t.Before(start) || t.After(end) {
			continue
		}
		cloud, temp := at(h.CloudCover, i), at(h.Temperature2m, i)
		if cloud == nil || temp == nil {
			continue
		}

		out = append(out, engine.WeatherSample{
			Time:          t.In(start.Location()),
			CloudCover:    *cloud / 100,
			TempC:         *temp,
			IrradianceWm2: at(h.ShortwaveRadiation, i),
		})
	}
	return out
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
