package store

import (
	"time"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/validate"
)

// Guards run before any I/O. They return nil or a validation *model.Error.

func CheckUser(userID string) error {
	if !validate.IsValidUserID(userID) {
		return model.NewValidationError(model.MsgInvalidUserID)
	}
	return nil
}

func CheckCreate(userID string, in model.CreateFoodLogEntry, opts Options) error {
	if err := CheckUser(userID); err != nil {
		return err
	}
	if !validate.IsValidCreateEntry(in, opts.MetricMax) {
		return model.NewValidationError(model.MsgInvalidLogEntry)
	}
	return nil
}

func CheckEdit(userID string, in model.EditFoodLogEntry, opts Options) error {
	if err := CheckUser(userID); err != nil {
		return err
	}
	if !validate.IsValidEditEntry(in, opts.MetricMax) {
		return model.NewValidationError(model.MsgInvalidLogEntry)
	}
	return nil
}

func CheckRange(userID string, start, end time.Time) error {
	if err := CheckUser(userID); err != nil {
		return err
	}
	if end.Before(start) {
		return model.NewValidationError(model.MsgStartAfterEnd)
	}
	return nil
}

func CheckConfiguration(userID string, c model.Configuration) error {
	if err := CheckUser(userID); err != nil {
		return err
	}
	if !validate.IsValidConfigurationItem(c) {
		return model.NewValidationError(model.MsgInvalidConfiguration)
	}
	return nil
}
