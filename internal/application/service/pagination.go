package service

import (
	"context"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/throttle"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// listPage is one throttled round trip of a cursor-paginated listing.
type listPage func(ctx context.Context, cursor string) (*port.InvoicePage, error)

// walkPages drains a cursor listing to exhaustion under the throttle
// controller, starting from the empty cursor. The walk is not
// restartable; resuming after a stop means walking again from page one.
//
// The stopped return is true when the walk was cut short by retry
// exhaustion or cancellation; the summaries accumulated up to that point
// are still returned so the caller can flush them. Any other listing
// error is returned as err alongside whatever was collected.
func walkPages(ctx context.Context, tc *throttle.Controller, onPage func(page, fetched int), list listPage) (summaries []entity.InvoiceSummary, stopped bool, err error) {
	cursor := ""
	page := 0
	for {
		var result *port.InvoicePage
		callErr := tc.Do(ctx, func(ctx context.Context) error {
			p, err := list(ctx, cursor)
			if err != nil {
				return err
			}
			result = p
			return nil
		})
		if throttle.ShouldStop(callErr) {
			return summaries, true, nil
		}
		if callErr != nil {
			return summaries, false, callErr
		}

		page++
		summaries = append(summaries, result.Summaries...)
		if onPage != nil {
			onPage(page, len(summaries))
		}

		if result.NextCursor == "" {
			return summaries, false, nil
		}
		cursor = result.NextCursor
	}
}
