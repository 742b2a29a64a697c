package notion

import (
	"context"
	"sort"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// maxPageSize is the largest page Notion returns per query.
const maxPageSize = 100

// QueryAll fetches every page matching filter, following cursors until the
// database reports no more results.
func QueryAll(ctx context.Context, c Client, dbID string, filter notionapi.Filter, sorts ...notionapi.SortObject) ([]notionapi.Page, error) {
	var (
		all    []notionapi.Page
		cursor notionapi.Cursor
	)
	for {
		resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
			Filter:      filter,
			Sorts:       sorts,
			StartCursor: cursor,
			PageSize:    maxPageSize,
		})
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// QueryByStatus returns pages whose status property equals any of statuses,
// oldest first.
func QueryByStatus(ctx context.Context, c Client, dbID, property string, statuses ...string) ([]notionapi.Page, error) {
	if len(statuses) == 0 {
		return nil, eris.New("notion: no statuses to query")
	}

	var filter notionapi.Filter
	if len(statuses) == 1 {
		filter = statusFilter(property, statuses[0])
	} else {
		or := make(notionapi.OrCompoundFilter, 0, len(statuses))
		for _, s := range statuses {
			or = append(or, statusFilter(property, s))
		}
		filter = or
	}

	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query %s by status", dbID)
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].CreatedTime.Before(pages[j].CreatedTime)
	})
	return pages, nil
}

func statusFilter(property, status string) notionapi.PropertyFilter {
	return notionapi.PropertyFilter{
		Property: property,
		Status:   &notionapi.StatusFilterCondition{Equals: status},
	}
}
