// Package thingspeak uploads averaged samples to a ThingSpeak channel through
// its HTTP update endpoint.
package thingspeak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"airquality-node/internal/reading"
)

const DefaultURL = "http://api.thingspeak.com/update"

// ErrRejected is returned when the service answered but did not accept the
// entry.
var ErrRejected = errors.New("thingspeak rejected update")

type Config struct {
	URL            string
	APIKey         string
	ChannelID      int64
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

type Client struct {
	endpoint *url.URL
	apiKey   string
	channel  int64
	http     *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("thingspeak api key is required")
	}
	raw := cfg.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        1,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		endpoint: u,
		apiKey:   cfg.APIKey,
		channel:  cfg.ChannelID,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.RequestTimeout,
		},
	}, nil
}

// Upload sends one update and returns the entry id assigned by ThingSpeak.
// Anything but HTTP 200 with a positive integer body is a failure.
func (c *Client) Upload(ctx context.Context, s reading.Sample) (int64, error) {
	u := *c.endpoint
	u.RawQuery = c.query(s).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send update: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	text := strings.TrimSpace(string(body))
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: response %q", ErrRejected, text)
	}
	return id, nil
}

// query builds the update parameters. Field order follows the channel layout:
// pm1, pm2.5, pm4, pm10, temperature, voc, nox, humidity.
func (c *Client) query(s reading.Sample) url.Values {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("field1", fixed2(s.PM1))
	q.Set("field2", fixed2(s.PM25))
	q.Set("field3", fixed2(s.PM4))
	q.Set("field4", fixed2(s.PM10))
	q.Set("field5", fixed2(s.Temperature))
	q.Set("field6", whole(s.VOC))
	q.Set("field7", whole(s.NOx))
	q.Set("field8", fixed2(s.Humidity))
	return q
}

func fixed2(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// whole truncates toward zero like an integer cast.
func whole(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatInt(int64(v), 10)
}

func (c *Client) ChannelID() int64 { return c.channel }
