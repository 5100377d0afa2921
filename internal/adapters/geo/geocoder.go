// Package geo resolves free-text location strings into a structured address
// breakdown and a timezone offset via external lookup services
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

const (
	geocodeURLDefault = "https://maps.googleapis.com/maps/api/geocode/json"
	tzURLDefault      = "https://www.earthtools.org/timezone-1.1"
	defaultTimeout    = 10 * time.Second
)

var tzOffsetRe = regexp.MustCompile(`<offset>([\-0-9\.]+)</offset>`)

// Geo is a resolved location: address breakdown plus timezone offset.
// Timezone is nil when the offset lookup failed; the address alone still
// counts as resolved
type Geo struct {
	Country     string
	CountryCode string
	State       string
	City        string
	Lat         float64
	Lng         float64
	Timezone    *int
}

// Options configures the Client
type Options struct {
	GeocodeURL  string
	TimezoneURL string
	Timeout     time.Duration
}

// Client performs the two-step resolution: geocode then timezone
type Client struct {
	http       *http.Client
	geocodeURL string
	tzURL      string
	log        logger.Logger
}

// NewClient creates a Client with sane defaults
func NewClient(o Options) *Client {
	if o.GeocodeURL == "" {
		o.GeocodeURL = geocodeURLDefault
	}
	if o.TimezoneURL == "" {
		o.TimezoneURL = tzURLDefault
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return &Client{
		http:       &http.Client{Timeout: o.Timeout},
		geocodeURL: o.GeocodeURL,
		tzURL:      o.TimezoneURL,
		log:        *logger.Named("geo"),
	}
}

// geocodeResponse models the slice of the geocode payload we read
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Resolve turns a location string into a Geo.
// ok is false when the string cannot be geocoded (an expected outcome for
// junk locations); an over-quota signal surfaces as ErrorCodeQuota so the
// caller can latch and try later
func (c *Client) Resolve(ctx context.Context, location string) (Geo, bool, error) {
	g, ok, err := c.geocode(ctx, location)
	if err != nil || !ok {
		return Geo{}, false, err
	}
	// best-effort timezone; address-only is still a resolution
	if off, terr := c.timezone(ctx, g.Lat, g.Lng); terr == nil {
		g.Timezone = &off
	} else {
		c.log.Warn().Err(terr).Str("location", location).Msg("timezone lookup failed")
	}
	return g, true, nil
}

func (c *Client) geocode(ctx context.Context, location string) (Geo, bool, error) {
	q := url.Values{}
	q.Set("address", location)
	q.Set("sensor", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return Geo{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Geo{}, false, perr.Wrapf(err, perr.ErrorCodeUnavailable, "geocode request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Geo{}, false, perr.Unavailablef("geocode status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Geo{}, false, perr.Wrapf(err, perr.ErrorCodeJSON, "geocode decode failed")
	}
	if body.Status == "OVER_QUERY_LIMIT" {
		return Geo{}, false, perr.Newf(perr.ErrorCodeQuota, "geocode over query limit")
	}
	if len(body.Results) == 0 {
		return Geo{}, false, nil
	}

	res := body.Results[0]
	g := Geo{Lat: res.Geometry.Location.Lat, Lng: res.Geometry.Location.Lng}
	for _, comp := range res.AddressComponents {
		for _, typ := range comp.Types {
			switch typ {
			case "country":
				g.Country = comp.LongName
				g.CountryCode = comp.ShortName
			case "administrative_area_level_1":
				g.State = comp.LongName
			case "locality", "sublocality":
				if g.City == "" {
					g.City = comp.LongName
				}
			}
		}
	}
	return g, true, nil
}

// timezone resolves the UTC offset for coordinates via the XML offset feed
func (c *Client) timezone(ctx context.Context, lat, lng float64) (int, error) {
	u := fmt.Sprintf("%s/%g/%g", c.tzURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "timezone request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, perr.Unavailablef("timezone status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "timezone read failed")
	}
	m := tzOffsetRe.FindSubmatch(buf)
	if m == nil {
		return 0, perr.Newf(perr.ErrorCodeUnknown, "timezone offset missing from response")
	}
	f, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeUnknown, "timezone offset malformed")
	}
	return int(f), nil
}
