package feed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"creatorsync/pkg/errors"
)

// Lookup resolves a creator username to its account record.
func Lookup(ctx context.Context, api API, username string) (*Account, error) {
	if username == "" {
		return nil, errors.Permanent("creator username is empty", 0)
	}

	var account Account
	if err := api.GetJSON(ctx, "/users/"+url.PathEscape(username), nil, &account); err != nil {
		return nil, fmt.Errorf("failed to look up creator %q: %w", username, err)
	}
	if account.ID == 0 {
		return nil, errors.Permanent(fmt.Sprintf("creator %q not found", username), 0)
	}
	return &account, nil
}

// Me fetches the authenticated account. Used as the credential check.
func Me(ctx context.Context, api API) (*Account, error) {
	var account Account
	if err := api.GetJSON(ctx, "/users/me", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Subscriptions lists the active subscriptions of the authenticated
// account, paging by offset until a short page.
func Subscriptions(ctx context.Context, api API) ([]Account, error) {
	const pageSize = 50

	var all []Account
	for offset := 0; ; offset += pageSize {
		params := url.Values{}
		params.Set("type", "active")
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page []Account
		if err := api.GetJSON(ctx, "/subscriptions/subscribes", params, &page); err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}

		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
