package feed

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/apperror"
)

// Downloader fetches a remote resource.
type Downloader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Source resolves the feed location: a local path or an http(s) URL.
type Source struct {
	Location   string
	Downloader Downloader
	Logger     zerolog.Logger
}

// Fetch loads and validates the feed.
func (s Source) Fetch(ctx context.Context) (*Feed, error) {
	start := time.Now()

	var (
		f   *Feed
		err error
	)
	if strings.HasPrefix(s.Location, "http://") || strings.HasPrefix(s.Location, "https://") {
		if s.Downloader == nil {
			return nil, apperror.Configuration("remote feed requires a downloader", nil)
		}
		var data []byte
		data, err = s.Downloader.Get(ctx, s.Location)
		if err != nil {
			return nil, apperror.Data("fetching feed", err)
		}
		f, err = LoadZip(data)
	} else {
		f, err = Load(s.Location)
	}
	if err != nil {
		return nil, apperror.Data("loading feed", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.Logger.Info().
		Str("location", s.Location).
		Int("stops", len(f.Stops)).
		Int("routes", len(f.Routes)).
		Int("trips", len(f.Trips)).
		Int("ridership_records", len(f.Ridership)).
		Dur("duration", time.Since(start)).
		Msg("transit feed loaded")

	return f, nil
}
