package notion

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueryAllPaginates(t *testing.T) {
	m := new(mockClient)

	first := &notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "page-1"}, {ID: "page-2"}},
		HasMore:    true,
		NextCursor: "cursor-1",
	}
	second := &notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "page-3"}},
		HasMore: false,
	}

	m.On("QueryDatabase", mock.Anything, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(first, nil).Once()
	m.On("QueryDatabase", mock.Anything, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == "cursor-1"
	})).Return(second, nil).Once()

	pages, err := QueryAll(context.Background(), m, "db-1", nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, notionapi.ObjectID("page-3"), pages[2].ID)
	m.AssertExpectations(t)
}

func TestQueryAllError(t *testing.T) {
	m := new(mockClient)
	m.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(nil, errors.New("boom")).Once()

	_, err := QueryAll(context.Background(), m, "db-1", nil)
	require.Error(t, err)
}

func TestQueryQueuedEntitiesFilter(t *testing.T) {
	m := new(mockClient)
	m.On("QueryDatabase", mock.Anything, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		f, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && f.Property == "Status" && f.Status != nil && f.Status.Equals == "Queued"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "queued-1"}},
	}, nil).Once()

	pages, err := QueryQueuedEntities(context.Background(), m, "db-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	m.AssertExpectations(t)
}

func TestMarkStatus(t *testing.T) {
	m := new(mockClient)
	m.On("UpdatePage", mock.Anything, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		st, ok := req.Properties["Status"].(notionapi.StatusProperty)
		if !ok || st.Status.Name != "Enriched" {
			return false
		}
		_, ok = req.Properties["Last Enriched"].(notionapi.DateProperty)
		return ok
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	err := MarkStatus(context.Background(), m, "page-1", "Enriched")
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestPageEntityRef(t *testing.T) {
	page := notionapi.Page{
		ID: "page-9",
		Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: "Summit "}, {PlainText: "Partners"}},
			},
			"Website": &notionapi.URLProperty{URL: "https://summit.example.com"},
			"Type":    &notionapi.SelectProperty{Select: notionapi.Option{Name: "buyer"}},
		},
	}

	ref := PageEntityRef(page)
	assert.Equal(t, "page-9", ref.PageID)
	assert.Equal(t, "Summit Partners", ref.Name)
	assert.Equal(t, "https://summit.example.com", ref.Website)
	assert.Equal(t, "buyer", ref.Type)
}

func TestPageEntityRefMissingProps(t *testing.T) {
	ref := PageEntityRef(notionapi.Page{ID: "page-0", Properties: notionapi.Properties{}})
	assert.Equal(t, "page-0", ref.PageID)
	assert.Empty(t, ref.Name)
	assert.Empty(t, ref.Website)
	assert.Empty(t, ref.Type)
}
