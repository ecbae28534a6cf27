package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"roster/internal/identity"
	"roster/internal/logging"
	"roster/internal/matching"
	"roster/internal/textutil"
)

// UnknownPersonName names people created from identities that carry neither
// a display name nor a username.
const UnknownPersonName = "Unknown"

// Repository is the persistence the driver needs.
type Repository interface {
	ListUnlinkedIdentities(ctx context.Context, orgID string) ([]identity.Unlinked, error)
	ListActivePeople(ctx context.Context, orgID string) ([]identity.Person, error)
	CreatePerson(ctx context.Context, orgID string, in identity.NewPerson) (identity.Person, error)
	CreateInitialLink(ctx context.Context, orgID string, in identity.NewLink) (identity.Link, error)
}

// Result counts what one run did.
type Result struct {
	Candidates    int `json:"candidates"`
	PeopleCreated int `json:"people_created"`
	LinksCreated  int `json:"links_created"`
	Auto          int `json:"auto"`
	Conflict      int `json:"conflict"`
	Rejected      int `json:"rejected"`
	Unchanged     int `json:"unchanged"`
}

// Driver matches unlinked identities to people.
type Driver struct {
	repo   Repository
	cfg    matching.Config
	logger *slog.Logger
}

// New validates cfg and returns a driver.
func New(repo Repository, cfg matching.Config, logger *slog.Logger) (*Driver, error) {
	if repo == nil {
		return nil, identity.Internalf("reconcile: nil repository")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		repo:   repo,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "reconcile"),
	}, nil
}

// Run processes every pending identity of orgID. It stops at the first
// storage error and returns the counts accumulated so far with it; links
// already written stay.
func (d *Driver) Run(ctx context.Context, orgID string) (Result, error) {
	var res Result
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := d.logger.With(
		logging.String(logging.FieldOrgID, orgID),
		logging.String(logging.FieldRunID, runID),
	)
	started := time.Now()

	pending, err := d.repo.ListUnlinkedIdentities(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("list unlinked identities: %w", err)
	}
	pool, err := d.repo.ListActivePeople(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("list active people: %w", err)
	}
	logger.Info("matching run started",
		logging.String(logging.FieldEventType, "match_run_start"),
		logging.Int("pending", len(pending)),
		logging.Int("people", len(pool)),
	)

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Candidates++
		ident := item.Identity

		best, found := d.bestCandidate(pool, ident)
		if !found && item.RejectedLinkID != "" {
			res.Unchanged++
			logger.Debug("identity still unmatched",
				logging.String("identity_id", ident.ID),
				logging.String(logging.FieldLinkID, item.RejectedLinkID),
			)
			continue
		}
		if !found {
			person, err := d.repo.CreatePerson(ctx, orgID, personFromIdentity(ident))
			if err != nil {
				return res, fmt.Errorf("create person for identity %s: %w", ident.ID, err)
			}
			res.PeopleCreated++
			pool = append(pool, person)
			best = candidate{person: person, result: matching.Evaluate(d.cfg, person, ident)}
		}

		trace, err := best.result.Trace.JSON()
		if err != nil {
			return res, identity.Internalf("encode rule trace: %v", err)
		}
		link, err := d.repo.CreateInitialLink(ctx, orgID, identity.NewLink{
			PersonID:        best.person.ID,
			IdentityID:      ident.ID,
			Status:          best.result.Status,
			Confidence:      best.result.Confidence,
			Trace:           trace,
			SupersedeLinkID: item.RejectedLinkID,
		})
		if err != nil {
			return res, fmt.Errorf("create link for identity %s: %w", ident.ID, err)
		}
		res.LinksCreated++
		switch link.Status {
		case identity.StatusAuto:
			res.Auto++
		case identity.StatusConflict:
			res.Conflict++
		case identity.StatusRejected:
			res.Rejected++
		}
		logger.Debug("identity linked",
			logging.String(logging.FieldLinkID, link.ID),
			logging.String("identity_id", ident.ID),
			logging.String("person_id", best.person.ID),
			logging.String("status", string(link.Status)),
			logging.Float64("confidence", link.Confidence),
		)
	}

	logger.Info("matching run finished",
		logging.String(logging.FieldEventType, "match_run_complete"),
		logging.Int("candidates", res.Candidates),
		logging.Int("people_created", res.PeopleCreated),
		logging.Int("links_created", res.LinksCreated),
		logging.Int("auto", res.Auto),
		logging.Int("conflict", res.Conflict),
		logging.Int("rejected", res.Rejected),
		logging.Int("unchanged", res.Unchanged),
		logging.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

type candidate struct {
	person identity.Person
	result matching.Result
}

// bestCandidate returns the highest-confidence non-rejected evaluation. Ties
// keep the earlier person.
func (d *Driver) bestCandidate(pool []identity.Person, ident identity.Identity) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	for _, person := range pool {
		result := matching.Evaluate(d.cfg, person, ident)
		if result.Status == identity.StatusRejected {
			continue
		}
		if !found || result.Confidence > best.result.Confidence {
			best = candidate{person: person, result: result}
			found = true
		}
	}
	return best, found
}

func personFromIdentity(ident identity.Identity) identity.NewPerson {
	return identity.NewPerson{
		DisplayName:  textutil.FirstNonBlank(ident.DisplayName, ident.Username, UnknownPersonName),
		PrimaryEmail: validEmailOrBlank(ident.Email),
	}
}

// validEmailOrBlank drops addresses NewPerson would reject, so a malformed
// source email never blocks person creation.
func validEmailOrBlank(email string) string {
	check := identity.NewPerson{DisplayName: "x", PrimaryEmail: email}
	if check.Validate() != nil {
		return ""
	}
	return email
}
