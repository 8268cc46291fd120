package refresh

import (
	"context"
	"fmt"
	"strconv"

	"sonarboard/internal/client"
	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/logger"
	"sonarboard/internal/storage"
)

// Project status values reported in a refresh summary
const (
	StatusUpdated  = "updated"
	StatusInactive = "inactive"
	StatusFailed   = "failed"
	StatusEmpty    = "no_metrics"
)

// Summary is the outcome of one refresh pass. Refresh never lets errors
// escape past this boundary; failures are folded into the summary so the
// scheduler can record them without unwinding.
type Summary struct {
	EntityType       domain.EntityType
	EntityID         string
	Success          bool
	Updated          int
	Failed           int
	InactiveProjects []string
	ProjectStatus    string // repository refreshes only
	Message          string
}

// Runner executes refresh passes against the quality API and the store
type Runner struct {
	client           client.Client
	store            storage.Storage
	failureThreshold int
	log              *logger.Logger
}

// NewRunner creates a refresh runner. failureThreshold is the number of
// consecutive fetch failures after which a repository is marked inactive.
func NewRunner(c client.Client, s storage.Storage, failureThreshold int) *Runner {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Runner{
		client:           c,
		store:            s,
		failureThreshold: failureThreshold,
		log:              logger.Default().WithField("component", "refresh"),
	}
}

// Run refreshes one entity. For repositories it fetches and persists a
// snapshot; for groups it refreshes every member and reconciles membership.
func (r *Runner) Run(ctx context.Context, entityType domain.EntityType, entityID string) Summary {
	switch entityType {
	case domain.EntityTypeGroup:
		return r.refreshGroup(ctx, entityID)
	default:
		return r.refreshRepository(ctx, entityID)
	}
}

// refreshRepository fetches current metrics for one project and appends a
// snapshot. A confirmed-absent project is inactivated immediately; repeated
// transient failures inactivate once the consecutive counter reaches the
// threshold. Store write failures do not touch the counter, which tracks
// upstream availability only.
func (r *Runner) refreshRepository(ctx context.Context, key string) Summary {
	summary := Summary{EntityType: domain.EntityTypeRepository, EntityID: key}
	log := r.log.WithField("project", key)

	name, measures, err := r.client.FetchMetrics(ctx, key)
	if err != nil {
		switch {
		case apperrors.IsNotFound(err):
			// Confirmed absent upstream: no point counting failures
			if markErr := r.store.MarkInactive(ctx, key); markErr != nil {
				log.WithError(markErr).Error("failed to mark absent project inactive")
			}
			summary.Failed = 1
			summary.ProjectStatus = StatusInactive
			summary.InactiveProjects = []string{key}
			summary.Message = "project not found upstream, marked inactive"
			log.Warn(summary.Message)
			return summary

		case apperrors.IsAuth(err):
			summary.Failed = 1
			summary.ProjectStatus = StatusFailed
			summary.Message = "upstream rejected credentials"
			log.WithError(err).Error(summary.Message)
			return summary

		default:
			count, incErr := r.store.IncrementFailures(ctx, key)
			if incErr != nil {
				log.WithError(incErr).Error("failed to record fetch failure")
			} else if count >= r.failureThreshold {
				if markErr := r.store.MarkInactive(ctx, key); markErr != nil {
					log.WithError(markErr).Error("failed to mark failing project inactive")
				} else {
					summary.InactiveProjects = []string{key}
					log.WithField("failures", count).Warn("project inactivated after repeated fetch failures")
				}
			}
			summary.Failed = 1
			summary.ProjectStatus = StatusFailed
			summary.Message = fmt.Sprintf("metrics fetch failed: %v", err)
			log.WithError(err).Error("metrics fetch failed")
			return summary
		}
	}

	if len(measures) == 0 {
		// Successful response with nothing analyzed yet: not a failure,
		// but there is nothing worth snapshotting either.
		summary.Success = true
		summary.ProjectStatus = StatusEmpty
		summary.Message = "no metrics reported for project"
		log.Info(summary.Message)
		return summary
	}

	var values domain.MetricValues
	for _, m := range measures {
		values.Set(m.Metric, m.Float())
	}

	if err := r.store.UpsertSnapshot(ctx, key, name, values, true); err != nil {
		summary.Failed = 1
		summary.ProjectStatus = StatusFailed
		summary.Message = fmt.Sprintf("snapshot write failed: %v", err)
		log.WithError(err).Error("snapshot write failed")
		return summary
	}

	summary.Success = true
	summary.Updated = 1
	summary.ProjectStatus = StatusUpdated
	log.Debug("snapshot recorded")
	return summary
}

// refreshGroup refreshes every member of a group, then marks members that
// were previously active but did not update this pass inactive. The group
// pass succeeds when at least one member updated.
func (r *Runner) refreshGroup(ctx context.Context, groupID string) Summary {
	summary := Summary{EntityType: domain.EntityTypeGroup, EntityID: groupID}
	log := r.log.WithField("group", groupID)

	id, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		summary.Message = fmt.Sprintf("invalid group id %q", groupID)
		log.Error(summary.Message)
		return summary
	}

	members, err := r.store.ProjectsInGroup(ctx, id)
	if err != nil {
		summary.Message = fmt.Sprintf("failed to load group members: %v", err)
		log.WithError(err).Error("failed to load group members")
		return summary
	}
	if len(members) == 0 {
		summary.Success = true
		summary.Message = "group has no members"
		return summary
	}

	keys := make([]string, 0, len(members))
	updated := make(map[string]bool, len(members))
	for _, member := range members {
		keys = append(keys, member.Key)

		ms := r.refreshRepository(ctx, member.Key)
		summary.Updated += ms.Updated
		summary.Failed += ms.Failed
		summary.InactiveProjects = append(summary.InactiveProjects, ms.InactiveProjects...)
		updated[member.Key] = ms.Updated > 0
	}

	swept, err := r.store.SweepStaleEntities(ctx, keys, updated)
	if err != nil {
		log.WithError(err).Error("stale member sweep failed")
	}
	summary.InactiveProjects = append(summary.InactiveProjects, swept...)

	summary.Success = summary.Updated > 0
	summary.Message = fmt.Sprintf("%d updated, %d failed, %d inactivated",
		summary.Updated, summary.Failed, len(summary.InactiveProjects))
	log.WithField("result", summary.Message).Info("group refresh complete")
	return summary
}
