// Package pagination follows YouTube Data API page tokens.
//
// List endpoints return at most one page per call (50 playlist items, 100
// comment threads) plus a nextPageToken. Collect calls a PageFunc with each
// token in turn until the requested number of items is gathered or the API
// stops returning tokens.
//
// Example usage:
//
//	ids, err := pagination.Collect(ctx, func(ctx context.Context, token string) (pagination.Page[string], error) {
//		resp, err := call.PageToken(token).Context(ctx).Do()
//		if err != nil {
//			return pagination.Page[string]{}, err
//		}
//		return pagination.Page[string]{Items: idsOf(resp), NextPageToken: resp.NextPageToken}, nil
//	}, 50)
//
// Collect:
//   - Fetches pages sequentially (each page needs the previous token)
//   - Truncates the final page to the limit
//   - Stops with ErrPageLoop if the API repeats a token
//   - Stops after Config.MaxPages pages
package pagination
