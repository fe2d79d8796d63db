package ledger

import (
	"context"
	"fmt"
)

// ListEntries lists ledger entries for a user, newest first unless the query asks otherwise.
func (service *Service) ListEntries(requestContext context.Context, userID UserID, query ListQuery) ([]Entry, error) {
	if query.Limit <= 0 || query.Limit > maxListLimit || query.Offset < 0 {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidListQuery, maxListLimit)
	}
	if query.Order != OrderOldestFirst {
		query.Order = OrderNewestFirst
	}
	if _, err := service.Balance(requestContext, userID); err != nil {
		return nil, err
	}
	return service.store.ListEntries(requestContext, userID, query)
}
