package storage

import (
	"context"
	"errors"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/stores"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/validator"
)

// translate maps store and validation failures onto the interactive error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return apperrors.NewValidation(validationErrs.Error(), err)
	case errors.Is(err, stores.ErrNotFound):
		return apperrors.ErrNotFound.WithInternal(err)
	case errors.Is(err, stores.ErrConflict):
		return apperrors.ErrConflictOnWrite.WithInternal(err)
	case errors.Is(err, stores.ErrInvalidPatch),
		errors.Is(err, stores.ErrInvalidFilter),
		errors.Is(err, cache.ErrInvalidKey):
		return apperrors.NewValidation(err.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperrors.ErrStoreUnavailable.WithInternal(err)
	}
}
