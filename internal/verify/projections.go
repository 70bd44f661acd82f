package verify

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/finalize"
)

// CheckProjectionsExist enforces §4.8 step 2: both versioned API
// projection tables for this dataset version must exist.
func CheckProjectionsExist(ctx context.Context, tx *sqlx.Tx, datasetVersion string) error {
	suffix := finalize.DatasetSuffix(datasetVersion)
	for _, name := range []string{
		fmt.Sprintf("postcode_street_lookup__%s", suffix),
		fmt.Sprintf("postcode_lookup__%s", suffix),
	} {
		var exists bool
		err := tx.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'api' AND table_name = $1
			)
		`, name)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Verification("missing projection table api.%s", name).WithContext("table", name)
		}
	}
	return nil
}
