package thoughtdb

import (
	"sort"
)

// MinedClaim is one Mind-proposed claim awaiting commit. LocalID is the
// mining call's own scratch identifier (not yet a claim_id) used to resolve
// edge endpoints within the same batch (spec.md §4.3).
type MinedClaim struct {
	LocalID        string
	ClaimType      string
	Text           string
	Scope          string
	Visibility     string
	Tags           []string
	Confidence     float64
	SourceEventIDs []string
}

// MinedEdge is one Mind-proposed edge awaiting commit. FromID/ToID may
// reference either a MinedClaim.LocalID from the same batch or an existing
// claim_id.
type MinedEdge struct {
	EdgeType       string
	FromID         string
	ToID           string
	SourceEventIDs []string
}

// MinedOutput is one call's worth of proposed claims and edges.
type MinedOutput struct {
	Claims []MinedClaim
	Edges  []MinedEdge
}

// ApplyResult reports what ApplyMinedOutput actually committed.
type ApplyResult struct {
	Written        []string          // newly appended claim_ids
	LinkedExisting map[string]string // local_id -> existing claim_id
	WrittenEdges   []string          // newly appended edge_ids
	Skipped        []SkipReason
}

// SkipReason names why a proposed claim or edge was not committed.
type SkipReason struct {
	LocalID string
	Reason  string
}

// ApplyOptions bounds one mining commit (spec.md §4.3 "apply_mined_output").
type ApplyOptions struct {
	ProjectID       string
	MinConfidence   float64
	MaxClaims       int
	AllowedEventIDs map[string]bool
}

const defaultMaxClaims = 20

// ApplyMinedOutput is the sole entry point through which Mind-produced
// claims and edges are committed to the Thought DB. It is idempotent by
// signature: re-applying the same claims links to the existing canonical id
// via the signature index rather than duplicating (spec.md §3 invariant,
// §8 "Mining idempotence").
func (db *DB) ApplyMinedOutput(out MinedOutput, opts ApplyOptions) (ApplyResult, error) {
	view, err := BuildView(db, opts.ProjectID)
	if err != nil {
		return ApplyResult{}, err
	}

	maxClaims := opts.MaxClaims
	if maxClaims <= 0 {
		maxClaims = defaultMaxClaims
	}

	result := ApplyResult{LinkedExisting: map[string]string{}}
	localToClaimID := map[string]string{}

	// Step 1: filter by confidence, drop claims missing a local_id, sort
	// desc by confidence, cap at max_claims.
	candidates := make([]MinedClaim, 0, len(out.Claims))
	for _, c := range out.Claims {
		if c.LocalID == "" {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "missing local_id"})
			continue
		}
		if c.Confidence < opts.MinConfidence {
			result.Skipped = append(result.Skipped, SkipReason{LocalID: c.LocalID, Reason: "below min_confidence"})
			continue
		}
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxClaims {
		for _, dropped := range candidates[maxClaims:] {
			result.Skipped = append(result.Skipped, SkipReason{LocalID: dropped.LocalID, Reason: "exceeds max_claims"})
		}
		candidates = candidates[:maxClaims]
	}

	for _, c := range candidates {
		sig := Signature(c.ClaimType, c.Scope, opts.ProjectID, c.Text)
		if existing, ok := view.FindCanonicalBySignature(sig); ok {
			result.LinkedExisting[c.LocalID] = existing
			localToClaimID[c.LocalID] = existing
			continue
		}

		allowed := firstAllowed(c.SourceEventIDs, opts.AllowedEventIDs)
		if allowed == "" {
			result.Skipped = append(result.Skipped, SkipReason{LocalID: c.LocalID, Reason: "no allowed source_event_id"})
			continue
		}

		claim := Claim{
			ClaimType:  c.ClaimType,
			Text:       c.Text,
			Scope:      c.Scope,
			Visibility: c.Visibility,
			Tags:       c.Tags,
			Confidence: c.Confidence,
			SourceRefs: refsFrom(c.SourceEventIDs, opts.AllowedEventIDs),
		}
		written, err := db.AppendClaim(claim)
		if err != nil {
			return result, err
		}
		result.Written = append(result.Written, written.ClaimID)
		localToClaimID[c.LocalID] = written.ClaimID
		// Keep the in-memory signature index current so a second claim in
		// the same batch with an identical signature links instead of
		// duplicating (idempotence must hold within one call too).
		view.signatureIndex[sig] = written.ClaimID
	}

	// Step 2: resolve and commit edges.
	existingEdges := make(map[string]bool, len(view.Edges))
	for _, e := range view.Edges {
		existingEdges[edgeKey(e.EdgeType, e.FromID, e.ToID)] = true
	}
	maxEdges := maxClaims * 6
	edgeCount := 0
	for _, e := range out.Edges {
		if edgeCount >= maxEdges {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "exceeds edge cap"})
			continue
		}
		fromID := resolveEndpoint(e.FromID, localToClaimID, view)
		toID := resolveEndpoint(e.ToID, localToClaimID, view)
		if fromID == "" || toID == "" {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "unresolved edge endpoint"})
			continue
		}
		fromClaim, fromOK := view.ClaimsByID[fromID]
		toClaim, toOK := view.ClaimsByID[toID]
		if !fromOK || !toOK {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "edge endpoint not found"})
			continue
		}
		if fromClaim.Scope != toClaim.Scope {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "edge endpoints differ in scope"})
			continue
		}
		allowed := firstAllowed(e.SourceEventIDs, opts.AllowedEventIDs)
		if allowed == "" {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "no allowed source_event_id for edge"})
			continue
		}
		key := edgeKey(e.EdgeType, fromID, toID)
		if existingEdges[key] {
			result.Skipped = append(result.Skipped, SkipReason{Reason: "duplicate edge"})
			continue
		}

		edge := Edge{
			EdgeType:   e.EdgeType,
			FromID:     fromID,
			ToID:       toID,
			Scope:      fromClaim.Scope,
			Visibility: MoreRestrictive(fromClaim.Visibility, toClaim.Visibility),
			SourceRefs: refsFrom(e.SourceEventIDs, opts.AllowedEventIDs),
		}
		written, err := db.AppendEdge(edge)
		if err != nil {
			return result, err
		}
		result.WrittenEdges = append(result.WrittenEdges, written.EdgeID)
		existingEdges[key] = true
		edgeCount++
	}

	return result, nil
}

func resolveEndpoint(id string, localToClaimID map[string]string, view *View) string {
	if resolved, ok := localToClaimID[id]; ok {
		return resolved
	}
	if _, ok := view.ClaimsByID[id]; ok {
		return view.Resolve(id)
	}
	return ""
}

func edgeKey(edgeType, from, to string) string {
	return edgeType + "|" + from + "|" + to
}

func firstAllowed(eventIDs []string, allowed map[string]bool) string {
	for _, id := range eventIDs {
		if allowed == nil || allowed[id] {
			return id
		}
	}
	return ""
}

func refsFrom(eventIDs []string, allowed map[string]bool) []SourceRef {
	var out []SourceRef
	for _, id := range eventIDs {
		if allowed == nil || allowed[id] {
			out = append(out, SourceRef{EventID: id})
		}
		if len(out) >= 5 {
			break
		}
	}
	return out
}
