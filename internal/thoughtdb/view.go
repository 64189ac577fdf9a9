package thoughtdb

// ClaimStatus classifies a claim against retractions and supersedes edges
// (spec.md §3 "Derived views").
type ClaimStatus string

const (
	StatusActive     ClaimStatus = "active"
	StatusSuperseded ClaimStatus = "superseded"
	StatusRetracted  ClaimStatus = "retracted"
)

// View materializes a scope's four streams into the lookups why-trace,
// operational defaults, and mining dedup need.
type View struct {
	ClaimsByID       map[string]Claim
	NodesByID        map[string]Node
	Edges            []Edge
	RedirectsSameAs  map[string]string // alias -> canonical
	SupersededIDs    map[string]bool
	RetractedIDs     map[string]bool
	signatureIndex   map[string]string // signature -> canonical claim_id
}

// BuildView reads every record in db as of now (there is no time-travel
// filter in this implementation; "as-of" is "as of the scan", matching
// spec.md's "materializes, from the JSONL streams" wording, since MI never
// rewinds a store to a historical instant in the core run-loop). projectID
// is the project_id signatures in this scope are computed against; pass ""
// for a global-scope DB, since global claims have no project_id component.
func BuildView(db *DB, projectID string) (*View, error) {
	claims, err := db.readClaims()
	if err != nil {
		return nil, err
	}
	retracts, err := db.readClaimRetracts()
	if err != nil {
		return nil, err
	}
	edges, err := db.readEdges()
	if err != nil {
		return nil, err
	}
	nodes, err := db.readNodes()
	if err != nil {
		return nil, err
	}

	v := &View{
		ClaimsByID:      make(map[string]Claim, len(claims)),
		NodesByID:       make(map[string]Node, len(nodes)),
		Edges:           edges,
		RedirectsSameAs: make(map[string]string),
		SupersededIDs:   make(map[string]bool),
		RetractedIDs:    make(map[string]bool),
		signatureIndex:  make(map[string]string, len(claims)),
	}

	for _, c := range claims {
		v.ClaimsByID[c.ClaimID] = c
	}
	for _, n := range nodes {
		v.NodesByID[n.NodeID] = n
	}
	for _, r := range retracts {
		v.RetractedIDs[r.TargetID] = true
	}
	for _, e := range edges {
		switch e.EdgeType {
		case EdgeSupersedes:
			v.SupersededIDs[e.FromID] = true
		case EdgeSameAs:
			v.RedirectsSameAs[e.FromID] = e.ToID
		}
	}

	// Index the canonical (non-aliased) claim per signature so mining can
	// link duplicates instead of re-appending them. An aliased claim (one
	// that is itself the "from" of a same_as edge) never wins the index
	// slot over its canonical target.
	for _, c := range claims {
		if _, isAlias := v.RedirectsSameAs[c.ClaimID]; isAlias {
			continue
		}
		sig := Signature(c.ClaimType, c.Scope, projectID, c.Text)
		v.signatureIndex[sig] = c.ClaimID
	}

	return v, nil
}

// Status resolves a claim's lifecycle state: retracted beats superseded
// beats active (spec.md §3).
func (v *View) Status(claimID string) ClaimStatus {
	if v.RetractedIDs[claimID] {
		return StatusRetracted
	}
	if v.SupersededIDs[claimID] {
		return StatusSuperseded
	}
	return StatusActive
}

// Resolve follows same_as redirects to the canonical id, with cycle
// protection (spec.md §3 "Canonical id is found by following same_as
// redirects with cycle protection").
func (v *View) Resolve(id string) string {
	seen := map[string]bool{}
	cur := id
	for {
		if seen[cur] {
			return cur // cycle: stop where we are rather than loop forever
		}
		seen[cur] = true
		next, ok := v.RedirectsSameAs[cur]
		if !ok || next == cur {
			return cur
		}
		cur = next
	}
}

// ActiveClaims returns every claim whose canonical status is active and
// which is not itself an alias (i.e. it would appear under canonical
// iteration per spec.md's "hides x from canonical iteration").
func (v *View) ActiveClaims() []Claim {
	out := make([]Claim, 0, len(v.ClaimsByID))
	for id, c := range v.ClaimsByID {
		if _, isAlias := v.RedirectsSameAs[id]; isAlias {
			continue
		}
		if v.Status(id) == StatusActive {
			out = append(out, c)
		}
	}
	return out
}

// FindCanonicalBySignature returns the existing canonical claim id for
// signature, if any.
func (v *View) FindCanonicalBySignature(signature string) (string, bool) {
	id, ok := v.signatureIndex[signature]
	return id, ok
}

// ClaimsByTag returns active, non-aliased claims carrying tag.
func (v *View) ClaimsByTag(tag string) []Claim {
	var out []Claim
	for id, c := range v.ClaimsByID {
		if _, isAlias := v.RedirectsSameAs[id]; isAlias {
			continue
		}
		if v.Status(id) != StatusActive {
			continue
		}
		for _, t := range c.Tags {
			if t == tag {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
