package database

import (
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or carries no known code.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return mapUniqueConstraint(pqErr)

	// Foreign key violation (23503)
	case "23503":
		if strings.Contains(pqErr.Message, "still referenced") || strings.Contains(pqErr.Detail, "still referenced") {
			return errors.Conflict("record is still referenced")
		}
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps the schema's CHECK constraint names to domain errors.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.Wrap(errors.ErrInsufficientStock, "INSUFFICIENT_STOCK",
			"stock quantity cannot become negative", http.StatusUnprocessableEntity)
	case strings.Contains(constraint, "quantity_positive"),
		strings.Contains(constraint, "allocation_bounds"):
		return errors.InvalidQuantity("quantity", "out of range")
	case strings.Contains(constraint, "kind_valid"):
		return errors.Validation(map[string]string{
			"kind": "must be one of: purchase, sale, transfer, adjustment, waste, return",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func mapUniqueConstraint(pqErr *pq.Error) *errors.AppError {
	switch {
	case strings.Contains(pqErr.Constraint, "reference"):
		return errors.DuplicateReference(extractKeyValue(pqErr.Detail))
	case strings.Contains(pqErr.Constraint, "allocation_record_work_item"):
		return errors.Conflict("stock item already allocated to this work item")
	default:
		return errors.Conflict("a record with these values already exists")
	}
}

// extractKeyValue pulls "VIS-10" out of `Key (reference)=(VIS-10) already exists.`
func extractKeyValue(detail string) string {
	start := strings.Index(detail, ")=(")
	if start < 0 {
		return ""
	}
	rest := detail[start+3:]
	end := strings.Index(rest, ")")
	if end < 0 {
		return rest
	}
	return rest[:end]
}
