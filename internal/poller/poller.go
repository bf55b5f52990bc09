// Package poller fetches and decodes the NTA GTFS-realtime feeds. Fetching
// the two feeds is independent: a failure on one never affects the other.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/21satvik/Busconnects-audit/internal/common/config"
	"github.com/21satvik/Busconnects-audit/internal/common/logger"
)

const (
	HeaderAPIKey = "x-api-key"
	UserAgent    = "busconnects-audit/1.0"
)

var (
	// ErrFetch covers network errors, timeouts and non-2xx responses.
	ErrFetch = errors.New("feed fetch failed")

	// ErrDecode covers payloads that do not parse as GTFS-realtime protobuf.
	ErrDecode = errors.New("feed decode failed")
)

type Poller struct {
	config     config.FeedsConfig
	httpClient *http.Client
	logger     logger.Logger
}

func New(cfg config.FeedsConfig, log logger.Logger) *Poller {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &Poller{
		config:     cfg,
		httpClient: client,
		logger:     log,
	}
}

// FetchTripUpdates fetches and decodes the trip progress feed.
func (p *Poller) FetchTripUpdates(ctx context.Context) ([]TripProgress, error) {
	msg, err := p.fetch(ctx, p.config.TripUpdatesURL)
	if err != nil {
		return nil, err
	}

	progress := decodeTripUpdates(msg)
	p.logger.Debug("Fetched trip updates", "entities", len(msg.Entity), "trips", len(progress))
	return progress, nil
}

// FetchVehiclePositions fetches and decodes the vehicle position feed.
func (p *Poller) FetchVehiclePositions(ctx context.Context) ([]PositionReport, error) {
	msg, err := p.fetch(ctx, p.config.VehiclePositionsURL)
	if err != nil {
		return nil, err
	}

	reports := decodeVehiclePositions(msg)
	p.logger.Debug("Fetched vehicle positions", "entities", len(msg.Entity), "positions", len(reports))
	return reports, nil
}

func (p *Poller) fetch(ctx context.Context, url string) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrFetch, err)
	}

	req.Header.Set(HeaderAPIKey, p.config.APIKey)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrFetch, err)
	}

	msg := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return msg, nil
}
