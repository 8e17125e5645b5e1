package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/awaistahir/solar-run/internal/engine"
)

const (
	octopusAPIBase = "https://api.octopus.energy/v1"
	// Current Agile product code - update as needed
	defaultAgileProduct = "AGILE-24-10-01"
)

// Slot is one published unit rate
type Slot struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PencePerKWh float64   `json:"pence_per_kwh"`
}

// OctopusClient fetches unit rates from the Octopus Energy Agile tariff
type OctopusClient struct {
	httpClient *http.Client
	baseURL    string
	product    string
	region     string
}

// NewOctopusClient creates a client for one region (A-P)
func NewOctopusClient(region string, timeout time.Duration) *OctopusClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OctopusClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    octopusAPIBase,
		product:    defaultAgileProduct,
		region:     region,
	}
}

// WithBaseURL points the client at another API root
func (c *OctopusClient) WithBaseURL(base string) *OctopusClient {
	c.baseURL = base
	return c
}

type octopusResponse struct {
	Count   int          `json:"count"`
	Next    *string      `json:"next"`
	Results []resultItem `json:"results"`
}

type resultItem struct {
	ValueExcVAT float64   `json:"value_exc_vat"`
	ValueIncVAT float64   `json:"value_inc_vat"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to"`
}

// HalfHourly fetches the VAT-inclusive rates covering day, oldest first
func (c *OctopusClient) HalfHourly(ctx context.Context, day time.Time) ([]Slot, error) {
	tariffCode := fmt.Sprintf("E-1R-%s-%s", c.product, c.region)
	endpoint := fmt.Sprintf("%s/products/%s/electricity-tariffs/%s/standard-unit-rates/",
		c.baseURL, c.product, tariffCode)

	start := engine.StartOfDay(day)
	end := start.AddDate(0, 0, 1)

	params := url.Values{}
	params.Add("period_from", start.UTC().Format(time.RFC3339))
	params.Add("period_to", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("octopus returned status %d: %s", resp.StatusCode, string(body))
	}

	var octResp octopusResponse
	if err := json.NewDecoder(resp.Body).Decode(&octResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	slots := make([]Slot, 0, len(octResp.Results))
	for _, r := range octResp.Results {
		slots = append(slots, Slot{Start: r.ValidFrom, End: r.ValidTo, PencePerKWh: r.ValueIncVAT})
	}

	// the API returns newest first
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// PricePerKWh is the day's time-weighted mean rate in GBP/kWh. The optimizer
// takes a single grid price, so intraday variation is averaged out.
func (c *OctopusClient) PricePerKWh(ctx context.Context, day time.Time) (float64, error) {
	slots, err := c.HalfHourly(ctx, day)
	if err != nil {
		return 0, err
	}
	return Mean(slots)
}

// Mean weights each slot by its length and converts pence to pounds
func Mean(slots []Slot) (float64, error) {
	var weighted, total float64
	for _, s := range slots {
		h := s.End.Sub(s.Start).Hours()
		if h <= 0 {
			continue
		}
		weighted += s.PencePerKWh * h
		total += h
	}
	if total == 0 {
		return 0, fmt.Errorf("no unit rates published")
	}
	return weighted / total / 100, nil
}

// Fixed is a flat tariff
type Fixed float64

func (f Fixed) PricePerKWh(context.Context, time.Time) (float64, error) {
	return float64(f), nil
}
