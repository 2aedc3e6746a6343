package rowstore

import (
	"fmt"
	"strings"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// buildFilterClause translates logical filters into a SQL predicate against
// physical column names. Returns the clause fragments (joined with AND by
// the caller) and their bind arguments.
func buildFilterClause(filters []types.Filter, physByLogical map[string]physColumn) ([]string, []interface{}, error) {
	var clauses []string
	var args []interface{}

	for _, f := range filters {
		col, ok := physByLogical[f.Column]
		if !ok {
			return nil, nil, serrors.NewColumnNotFound(f.Column)
		}
		switch f.Op {
		case types.OpGT:
			clauses = append(clauses, col.Physical+" > ?")
			args = append(args, coerceValue(f.Value, col.Type))
		case types.OpLT:
			clauses = append(clauses, col.Physical+" < ?")
			args = append(args, coerceValue(f.Value, col.Type))
		case types.OpEQ:
			clauses = append(clauses, col.Physical+" = ?")
			args = append(args, coerceValue(f.Value, col.Type))
		case types.OpIN:
			if len(f.Values) == 0 {
				// IN () matches nothing; keep the semantics explicit.
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Values)), ", ")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col.Physical, placeholders))
			for _, v := range f.Values {
				args = append(args, coerceValue(v, col.Type))
			}
		default:
			return nil, nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
				fmt.Sprintf("unsupported filter operator %q", f.Op))
		}
	}
	return clauses, args, nil
}
