// Package resolve matches CRM entities to external organization identities
// before enrichment, and applies human identity confirmations.
package resolve

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/extract"
	"github.com/harborview-partners/enrich-cli/internal/merge"
	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/resilience"
	"github.com/harborview-partners/enrich-cli/internal/schema"
	"github.com/harborview-partners/enrich-cli/pkg/apollo"
)

// ErrUnknownCandidate is returned by Confirm when the chosen candidate id is
// not on the entity's persisted candidate list.
var ErrUnknownCandidate = eris.New("resolve: candidate not on entity")

// Resolution is the outcome of an identity search. Exactly one of
// AutoConfirmed or Candidates is populated; both empty means the search
// found nothing.
type Resolution struct {
	AutoConfirmed *model.CandidateMatch
	Candidates    []model.CandidateMatch
}

// ConfirmResult describes what a confirmation changed.
type ConfirmResult struct {
	Status        model.ResolutionStatus
	Locator       string
	Updates       map[string]any
	ChangedFields []string
	// Fallback is true when re-extraction failed and the candidate's own
	// summary fields were persisted instead.
	Fallback bool
}

// Resolver performs identity search and confirmation against Apollo.
type Resolver struct {
	apollo    apollo.Client
	acquirer  *acquire.Acquirer
	extractor *extract.Extractor
	registry  *schema.Registry
}

// New creates a Resolver.
func New(ac apollo.Client, acq *acquire.Acquirer, ex *extract.Extractor, reg *schema.Registry) *Resolver {
	return &Resolver{apollo: ac, acquirer: acq, extractor: ex, registry: reg}
}

// Search looks the entity up by name and location, ranks the results, and
// applies the auto-confirm heuristic: a unique domain match, or a unique
// candidate at or above the type's confidence threshold.
func (r *Resolver) Search(ctx context.Context, e *model.Entity) (*Resolution, error) {
	desc := r.registry.Get(e.Type)
	if desc == nil {
		return nil, eris.Errorf("resolve: no descriptor for type %q", e.Type)
	}

	req := apollo.OrganizationSearchRequest{Name: e.Name}
	if e.City != "" && e.State != "" {
		req.Location = e.City + ", " + e.State
	}
	if d := acquire.Domain(e.Website); d != "" {
		req.Domains = []string{d}
	}

	resp, err := resilience.DoVal(ctx, apolloRetry(), func(ctx context.Context) (*apollo.OrganizationSearchResponse, error) {
		return r.apollo.SearchOrganizations(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolve: organization search")
	}

	candidates := make([]model.CandidateMatch, 0, len(resp.Organizations))
	for _, org := range resp.Organizations {
		candidates = append(candidates, model.CandidateMatch{
			ID:      org.ID,
			Name:    org.Name,
			Domain:  strings.ToLower(org.PrimaryDomain),
			Score:   scoreCandidate(e, org),
			Summary: candidateSummary(org),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if chosen := autoConfirm(candidates, desc.Threshold); chosen != nil {
		zap.L().Info("resolve: auto-confirmed identity",
			zap.String("entity", e.NaturalKey),
			zap.String("candidate", chosen.Name),
			zap.String("domain", chosen.Domain),
			zap.Float64("score", chosen.Score),
		)
		return &Resolution{AutoConfirmed: chosen}, nil
	}
	return &Resolution{Candidates: candidates}, nil
}

// candidateSummary captures the coarse attributes the search already knows
// about an organization, keyed by schema field name so a confirmation
// fallback can merge them directly.
func candidateSummary(org apollo.Organization) map[string]any {
	s := map[string]any{}
	if org.ShortDescription != "" {
		s["description"] = org.ShortDescription
	}
	if org.Industry != "" {
		s["sector_focus"] = []string{org.Industry}
	}
	if org.City != "" && org.State != "" {
		s["geography"] = []string{org.City + ", " + org.State}
	}
	if len(s) == 0 {
		return nil
	}
	return s
}

// autoConfirm picks a candidate only when it is unambiguous: exactly one
// domain match, or exactly one candidate at or above the threshold.
func autoConfirm(candidates []model.CandidateMatch, threshold float64) *model.CandidateMatch {
	var domainMatches []*model.CandidateMatch
	for i := range candidates {
		if candidates[i].Score >= 1.0 {
			domainMatches = append(domainMatches, &candidates[i])
		}
	}
	if len(domainMatches) == 1 {
		return domainMatches[0]
	}
	if len(domainMatches) > 1 {
		return nil
	}

	var strong []*model.CandidateMatch
	for i := range candidates {
		if candidates[i].Score >= threshold {
			strong = append(strong, &candidates[i])
		}
	}
	if len(strong) == 1 {
		return strong[0]
	}
	return nil
}

// Confirm applies a human identity decision: re-run acquisition and
// extraction against the chosen candidate's domain. If that fails, the
// candidate's own summary fields are written instead of leaving the entity
// empty. Either way the ambiguity is consumed; callers must clear the
// candidate list and set the returned status.
func (r *Resolver) Confirm(ctx context.Context, e *model.Entity, candidateID string) (*ConfirmResult, error) {
	var chosen *model.CandidateMatch
	for i := range e.Candidates {
		if e.Candidates[i].ID == candidateID {
			chosen = &e.Candidates[i]
			break
		}
	}
	if chosen == nil {
		return nil, eris.Wrapf(ErrUnknownCandidate, "resolve: id %s", candidateID)
	}

	desc := r.registry.Get(e.Type)
	if desc == nil {
		return nil, eris.Errorf("resolve: no descriptor for type %q", e.Type)
	}

	locator, err := acquire.NormalizeLocator(chosen.Domain)
	if err != nil {
		return r.fallback(e, desc, chosen, ""), nil
	}

	content, err := r.acquirer.Acquire(ctx, locator)
	if err != nil {
		zap.L().Warn("resolve: confirm acquisition failed, using candidate summary",
			zap.String("entity", e.NaturalKey),
			zap.String("locator", locator),
			zap.Error(err),
		)
		return r.fallback(e, desc, chosen, locator), nil
	}

	res := r.extractor.Extract(ctx, desc, content.Text)
	if res.Kind != extract.OutcomeRecord {
		zap.L().Warn("resolve: confirm extraction failed, using candidate summary",
			zap.String("entity", e.NaturalKey),
			zap.String("outcome", res.Kind.String()),
		)
		return r.fallback(e, desc, chosen, locator), nil
	}

	merged := merge.Apply(e, desc, res.Fields, merge.FillIfEmpty)
	return &ConfirmResult{
		Status:        model.ResolutionOK,
		Locator:       locator,
		Updates:       merged.Updates,
		ChangedFields: merged.ChangedFields,
	}, nil
}

// fallback persists the candidate's search-time summary fields so a
// confirmed identity never leaves the entity empty. Partial data beats no
// data once a human has decided.
func (r *Resolver) fallback(e *model.Entity, desc *schema.TypeDescriptor, chosen *model.CandidateMatch, locator string) *ConfirmResult {
	merged := merge.Apply(e, desc, chosen.Summary, merge.FillIfEmpty)
	return &ConfirmResult{
		Status:        model.ResolutionError,
		Locator:       locator,
		Updates:       merged.Updates,
		ChangedFields: merged.ChangedFields,
		Fallback:      true,
	}
}

// MatchContact enriches a contact entity through Apollo's person match
// instead of page extraction. Returns nil when Apollo has no record.
func (r *Resolver) MatchContact(ctx context.Context, e *model.Entity) (map[string]any, error) {
	req := apollo.PersonMatchRequest{Email: e.NaturalKey}
	if first, last, ok := strings.Cut(e.Name, " "); ok {
		req.FirstName = first
		req.LastName = last
	}

	resp, err := resilience.DoVal(ctx, apolloRetry(), func(ctx context.Context) (*apollo.PersonMatchResponse, error) {
		return r.apollo.MatchPerson(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolve: person match")
	}
	if resp.Person == nil {
		return nil, nil
	}

	fields := map[string]any{}
	if resp.Person.Title != "" {
		fields["title"] = resp.Person.Title
	}
	if resp.Person.LinkedInURL != "" {
		fields["linkedin"] = resp.Person.LinkedInURL
	}
	if resp.Person.Organization != nil && resp.Person.Organization.Name != "" {
		fields["organization"] = resp.Person.Organization.Name
	}
	return fields, nil
}

// apolloRetry uses the default transience check; apollo.APIError carries its
// status code, so retryable responses are recognized without a custom policy.
func apolloRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig("apollo")
}
