package finalize

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Pass8Finalisation implements C7 (§4.7): it aggregates every weighted
// candidate into one ranked, probability-normalised row per
// (postcode, canonical_street_name), links the result back to its
// contributing candidates and sources, flags multi-street postcodes,
// and materialises the versioned API projection tables. weights is the
// validated eight-entry frequency-weight table from configuration.
func Pass8Finalisation(ctx context.Context, tx *sqlx.Tx, buildRunID string, weights map[string]float64) (map[string]int, error) {
	if err := prepareWeightedCandidates(ctx, tx, buildRunID, weights); err != nil {
		return nil, err
	}

	groups, err := fetchGroups(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("finalize: fetch groups: %w", err)
	}
	sources, err := fetchSourceContributions(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("finalize: fetch source contributions: %w", err)
	}
	sourcesByGroup := make(map[string][]sourceRow, len(sources))
	for _, s := range sources {
		key := groupKey(s.Postcode, s.CanonicalStreetName)
		sourcesByGroup[key] = append(sourcesByGroup[key], s)
	}

	var multiStreetPostcodes []string
	finalCount, candidateLinkCount, sourceLinkCount := 0, 0, 0

	for i := 0; i < len(groups); {
		j := i + 1
		for j < len(groups) && groups[j].Postcode == groups[i].Postcode {
			j++
		}
		batch := groups[i:j]

		n, cl, sl, err := insertFinalBatch(ctx, tx, buildRunID, batch, sourcesByGroup)
		if err != nil {
			return nil, err
		}
		finalCount += n
		candidateLinkCount += cl
		sourceLinkCount += sl
		if len(batch) > 1 {
			multiStreetPostcodes = append(multiStreetPostcodes, batch[0].Postcode)
		}
		i = j
	}

	if len(multiStreetPostcodes) > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE postcodes SET multi_street = true WHERE build_run_id = $1 AND postcode = ANY($2)`, buildRunID, pq.Array(multiStreetPostcodes)); err != nil {
			return nil, fmt.Errorf("finalize: update multi_street: %w", err)
		}
	}

	var datasetVersion string
	if err := tx.GetContext(ctx, &datasetVersion, `SELECT dataset_version FROM build_run WHERE build_run_id = $1`, buildRunID); err != nil {
		return nil, fmt.Errorf("finalize: load dataset_version: %w", err)
	}
	if err := materialiseProjections(ctx, tx, buildRunID, datasetVersion); err != nil {
		return nil, err
	}

	return map[string]int{
		"postcode_streets_final":          finalCount,
		"postcode_streets_final_candidate": candidateLinkCount,
		"postcode_streets_final_source":    sourceLinkCount,
	}, nil
}

// insertFinalBatch processes every group for a single postcode (already
// in rank order): it computes the sum-to-one probability distribution,
// inserts one postcode_streets_final row per group, and links each back
// to its grouped candidate ids and per-source contribution weights.
func insertFinalBatch(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []groupRow, sourcesByGroup map[string][]sourceRow) (finalCount, candidateLinkCount, sourceLinkCount int, err error) {
	weightedScores := make([]float64, len(batch))
	for i, g := range batch {
		weightedScores[i] = g.WeightedScore
	}
	scaled, err := scaledProbabilities(weightedScores)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("finalize: postcode %q: %w", batch[0].Postcode, err)
	}

	for i, g := range batch {
		var finalID int64
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO postcode_streets_final
				(build_run_id, postcode, street_name, usrn, confidence, frequency_score, probability)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING final_id
		`, buildRunID, g.Postcode, g.CanonicalStreetName, g.USRN, string(confidenceFromRank(g.ConfRank)),
			formatFixed4(scaleFixed4(g.WeightedScore)), formatFixed4(scaled[i]),
		).Scan(&finalID)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("finalize: insert postcode_streets_final for %q/%q: %w", g.Postcode, g.CanonicalStreetName, err)
		}
		finalCount++

		for rank, candidateID := range g.CandidateIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO postcode_streets_final_candidate (final_id, candidate_id, link_rank)
				VALUES ($1, $2, $3)
			`, finalID, candidateID, rank+1); err != nil {
				return 0, 0, 0, fmt.Errorf("finalize: link candidate %d to final %d: %w", candidateID, finalID, err)
			}
			candidateLinkCount++
		}

		for _, s := range sourcesByGroup[groupKey(g.Postcode, g.CanonicalStreetName)] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO postcode_streets_final_source
					(final_id, source_name, ingest_run_id, candidate_type, contribution_weight)
				VALUES ($1, $2, $3, $4, $5)
			`, finalID, s.SourceName, s.IngestRunID, s.CandidateType, formatFixed4(scaleFixed4(s.ContributionWeight))); err != nil {
				return 0, 0, 0, fmt.Errorf("finalize: record source contribution for final %d: %w", finalID, err)
			}
			sourceLinkCount++
		}
	}

	return finalCount, candidateLinkCount, sourceLinkCount, nil
}
