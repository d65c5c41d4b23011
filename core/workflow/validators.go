package workflow

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
)

var (
	eventTypeTag  = "eventtype"
	eventTypeText = "unknown event type"

	channelTag  = "channel"
	channelText = "channel must be one of email, telegram or in_app"

	recipientTag  = "recipient"
	recipientText = "recipient must be one of actor, trainers, students, admins, participants or user:<id>"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(eventTypeTag, eventTypeValidation)
	core.RegisterCustomTranslation(validate, translator, eventTypeTag, eventTypeText)

	_ = validate.RegisterValidation(channelTag, channelValidation)
	core.RegisterCustomTranslation(validate, translator, channelTag, channelText)

	_ = validate.RegisterValidation(recipientTag, recipientValidation)
	core.RegisterCustomTranslation(validate, translator, recipientTag, recipientText)
}

func eventTypeValidation(fl validator.FieldLevel) bool {
	return core.StringInSlice(fl.Field().String(), core.EventTypes)
}

func channelValidation(fl validator.FieldLevel) bool {
	return core.StringInSlice(fl.Field().String(), Channels)
}

func recipientValidation(fl validator.FieldLevel) bool {
	r := fl.Field().String()
	if id, ok := isUserRecipient(r); ok {
		_, err := uuid.Parse(id)
		return err == nil
	}
	return core.StringInSlice(r, groupRecipients)
}
