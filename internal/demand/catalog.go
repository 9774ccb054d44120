package demand

import (
	"fmt"

	"github.com/transitopt/transitopt/internal/feed"
)

// FeedCatalog resolves static attributes from a loaded transit feed.
type FeedCatalog struct {
	Feed *feed.Feed

	// Fare applied to every route when the feed carries none.
	Fare float64
}

// Attributes implements Catalog. A stop that is not served by the route gets
// position 0.
func (c FeedCatalog) Attributes(stopID, routeID string) (Attributes, error) {
	stop, ok := c.Feed.Stop(stopID)
	if !ok {
		return Attributes{}, fmt.Errorf("%w: %s", feed.ErrUnknownStop, stopID)
	}
	route, ok := c.Feed.Route(routeID)
	if !ok {
		return Attributes{}, fmt.Errorf("%w: %s", feed.ErrUnknownRoute, routeID)
	}

	var nStops int
	if ids, err := c.Feed.RouteStops(routeID); err == nil {
		nStops = len(ids)
	}

	return Attributes{
		RouteType:     route.Type,
		Position:      c.Feed.StopPosition(routeID, stopID),
		RouteStops:    nStops,
		RouteLengthKM: c.Feed.RouteLengthKM(routeID),
		Lat:           stop.Lat,
		Lon:           stop.Lon,
		Fare:          c.Fare,
	}, nil
}

var _ Catalog = FeedCatalog{}
