package notion

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a Notion database, handling pagination.
// Rate limiting is enforced by the Client (3 req/s by default).
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}

		req = &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
	}

	return all, nil
}

// QueryQueuedEntities fetches all pages with Status = "Queued" from the
// enrichment queue database.
func QueryQueuedEntities(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Queued",
			},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: query queued entities")
	}
	return pages, nil
}

// MarkStatus sets the queue page's Status and stamps Last Enriched.
func MarkStatus(ctx context.Context, c Client, pageID, status string) error {
	now := notionapi.Date(time.Now())
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.StatusProperty{
				Status: notionapi.Status{Name: status},
			},
			"Last Enriched": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "notion: mark page %s %s", pageID, status)
	}
	return nil
}

// EntityRef is the subset of queue page properties the pipeline needs to
// locate or create an entity.
type EntityRef struct {
	PageID  string
	Name    string
	Website string
	Type    string
}

// PageEntityRef extracts an EntityRef from a queue page. Missing properties
// leave the corresponding field empty; callers decide what is required.
func PageEntityRef(page notionapi.Page) EntityRef {
	ref := EntityRef{PageID: string(page.ID)}

	if p, ok := page.Properties["Name"].(*notionapi.TitleProperty); ok {
		ref.Name = PlainText(p.Title)
	}
	if p, ok := page.Properties["Website"].(*notionapi.URLProperty); ok {
		ref.Website = p.URL
	}
	if p, ok := page.Properties["Type"].(*notionapi.SelectProperty); ok {
		ref.Type = p.Select.Name
	}

	return ref
}

// PlainText flattens a rich text property to a single string.
func PlainText(rts []notionapi.RichText) string {
	var out string
	for _, rt := range rts {
		out += rt.PlainText
	}
	return out
}
