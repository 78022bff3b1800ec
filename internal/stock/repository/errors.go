package repository

import (
	"database/sql"

	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

// mapErr translates driver errors into application errors. Unknown errors
// pass through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// notFound maps sql.ErrNoRows to a NotFound for the given resource
func notFound(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource)
	}
	return mapErr(err)
}
