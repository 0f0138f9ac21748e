// ./internal/state/opportunity_store.go
package state

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/yieldloop/engine/internal/types"
)

// OpportunityStore reads the opportunity snapshot feed. The rows are owned by
// the external dashboard backend that refreshes them; the engine only reads,
// except for UpsertOpportunity which exists for that refresher and for tests.
type OpportunityStore struct {
	store *Store
}

// NewOpportunityStore returns an OpportunityStore backed by the global pool.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{store: NewStore()}
}

// GetSnapshot returns current opportunities restricted to the given
// protocol/network allow-lists. Freshness filtering is the evaluator's
// responsibility; the snapshot carries the refresh timestamps.
func (o *OpportunityStore) GetSnapshot(ctx context.Context, protocols, networks []string) ([]types.Opportunity, error) {
	if o.store.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `
		SELECT opportunity_id, protocol, network, asset, apy, tvl_usd, risk_level, refreshed_at
		FROM opportunities
		WHERE protocol = ANY($1) AND network = ANY($2)
		ORDER BY apy DESC;`

	rows, err := o.store.db.QueryContext(ctx, query, pq.Array(protocols), pq.Array(networks))
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunity snapshot: %w", err)
	}
	defer rows.Close()

	var snapshot []types.Opportunity
	for rows.Next() {
		var opp types.Opportunity
		err := rows.Scan(&opp.ID, &opp.Protocol, &opp.Network, &opp.Asset,
			&opp.APY, &opp.TVLUSD, &opp.RiskLevel, &opp.RefreshedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity row: %w", err)
		}
		snapshot = append(snapshot, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate opportunity snapshot: %w", err)
	}
	return snapshot, nil
}

// UpsertOpportunity refreshes one opportunity row, keyed on
// protocol/network/asset, stamping refreshed_at with the database clock.
func (o *OpportunityStore) UpsertOpportunity(ctx context.Context, opp types.Opportunity) (int64, error) {
	if o.store.db == nil {
		return 0, types.ErrRepositoryUnavailable
	}

	query := `
		INSERT INTO opportunities (protocol, network, asset, apy, tvl_usd, risk_level, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (protocol, network, asset) DO UPDATE
		SET apy = EXCLUDED.apy,
		    tvl_usd = EXCLUDED.tvl_usd,
		    risk_level = EXCLUDED.risk_level,
		    refreshed_at = CURRENT_TIMESTAMP
		RETURNING opportunity_id;`

	var opportunityID int64
	err := o.store.db.QueryRowContext(ctx, query,
		opp.Protocol, opp.Network, opp.Asset, opp.APY, opp.TVLUSD, opp.RiskLevel,
	).Scan(&opportunityID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert opportunity %s/%s/%s: %w", opp.Protocol, opp.Network, opp.Asset, err)
	}

	log.Debug().
		Int64("opportunityID", opportunityID).
		Str("protocol", opp.Protocol).
		Str("network", opp.Network).
		Str("asset", opp.Asset).
		Msg("Opportunity refreshed")
	return opportunityID, nil
}
