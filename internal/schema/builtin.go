package schema

import "github.com/harborview-partners/enrich-cli/internal/model"

// defaultAutoConfirmThreshold is the candidate score above which a single
// search result auto-confirms without human review.
const defaultAutoConfirmThreshold = 0.9

func builtinTypes() []*TypeDescriptor {
	return []*TypeDescriptor{
		{
			Key:      model.EntityTypeBuyer,
			KeyField: "domain",
			NeedsID:  true,
			Fields: []FieldSpec{
				{Name: "description", Kind: KindText, Hint: "one-paragraph summary of what the buyer does"},
				{Name: "acquisition_thesis", Kind: KindText, Hint: "what the buyer acquires and why"},
				{Name: "sector_focus", Kind: KindTags, Hint: "industries the buyer targets"},
				{Name: "geography", Kind: KindTags, Hint: "regions or states the buyer operates in"},
				{Name: "keywords", Kind: KindTags},
				{Name: "past_acquisitions", Kind: KindRecords, Hint: "objects with name, year, sector"},
			},
			Prompt: "You are profiling a corporate acquirer for an M&A advisory CRM. " +
				"Describe what the organization does, what kinds of businesses it acquires, and where.",
			Threshold: defaultAutoConfirmThreshold,
		},
		{
			Key:      model.EntityTypeCompany,
			KeyField: "domain",
			Fields: []FieldSpec{
				{Name: "description", Kind: KindText, Hint: "one-paragraph business description"},
				{Name: "sector_focus", Kind: KindTags, Hint: "industries served"},
				{Name: "keywords", Kind: KindTags},
				{Name: "highlights", Kind: KindText, Hint: "notable differentiators, plain text"},
				{Name: "geography", Kind: KindTags},
			},
			Prompt: "You are profiling an operating company for an M&A advisory CRM. " +
				"Summarize its business, markets and footprint from its website content.",
			Threshold: defaultAutoConfirmThreshold,
		},
		{
			Key:      model.EntityTypeFund,
			KeyField: "domain",
			NeedsID:  true,
			Fields: []FieldSpec{
				{Name: "description", Kind: KindText},
				{Name: "investment_thesis", Kind: KindText, Hint: "stated strategy: check size, stage, sectors"},
				{Name: "sector_focus", Kind: KindTags},
				{Name: "geography", Kind: KindTags},
				{Name: "portfolio", Kind: KindRecords, Hint: "objects with name, sector"},
			},
			Prompt: "You are profiling a private equity or investment fund for an M&A advisory CRM. " +
				"Extract its investment strategy and focus from its website content.",
			Threshold: defaultAutoConfirmThreshold,
		},
		{
			Key:      model.EntityTypeContact,
			KeyField: "email",
			Fields: []FieldSpec{
				{Name: "title", Kind: KindText, Hint: "current role"},
				{Name: "bio", Kind: KindText},
				{Name: "organization", Kind: KindText},
				{Name: "linkedin", Kind: KindText, Hint: "profile URL"},
				{Name: "keywords", Kind: KindTags},
			},
			Prompt: "You are profiling a business contact for an M&A advisory CRM. " +
				"Extract their role, organization and background from the page content.",
			Threshold: defaultAutoConfirmThreshold,
		},
		{
			Key:      model.EntityTypeLead,
			KeyField: "domain",
			Fields: []FieldSpec{
				{Name: "description", Kind: KindText},
				{Name: "sector_focus", Kind: KindTags},
				{Name: "keywords", Kind: KindTags},
				{Name: "geography", Kind: KindTags},
			},
			Prompt: "You are qualifying an inbound lead for an M&A advisory CRM. " +
				"Summarize the company behind this website.",
			Threshold: defaultAutoConfirmThreshold,
		},
	}
}
