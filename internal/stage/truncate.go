package stage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// stageTables lists every stage table from §3, in the order Pass 0b
// truncates them before repopulating (no parent/child ordering is needed
// among stage tables themselves, since they only ever reference a single
// build_run_id, but LIDS's three sub-tables are listed together for
// clarity).
var stageTables = []string{
	"onspd_postcode",
	"streets_usrn_input",
	"open_names_road_feature",
	"open_roads_segment",
	"uprn_point",
	"oli_toid_usrn",
	"oli_uprn_usrn",
	"oli_identifier_pair",
	"nsul_uprn_postcode",
	"osni_street_point",
	"dfi_road_segment",
	"ppd_parsed_address",
}

// Truncate deletes every stage row owned by buildRunID, the first step of
// Pass 0b (§4.5), so a retried or rebuilt pass starts from a clean slate.
func Truncate(ctx context.Context, tx *sqlx.Tx, buildRunID string) error {
	for _, table := range stageTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE build_run_id = $1`, table), buildRunID); err != nil {
			return fmt.Errorf("truncate stage table %s for run %s: %w", table, buildRunID, err)
		}
	}
	return nil
}
