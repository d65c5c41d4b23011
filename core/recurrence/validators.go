package recurrence

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

var (
	freqTag  = "rrulefreq"
	freqText = "frequency must be one of daily, weekly or monthly"

	weekdaysTag  = "weekdays"
	weekdaysText = "weekdays must be two-letter day codes (MO, TU, WE, TH, FR, SA, SU)"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(freqTag, freqValidation)
	core.RegisterCustomTranslation(validate, translator, freqTag, freqText)

	_ = validate.RegisterValidation(weekdaysTag, weekdaysValidation)
	core.RegisterCustomTranslation(validate, translator, weekdaysTag, weekdaysText)
}

func freqValidation(fl validator.FieldLevel) bool {
	freq := Frequency(fl.Field().String())
	for _, f := range Frequencies {
		if f == freq {
			return true
		}
	}
	return false
}

func weekdaysValidation(fl validator.FieldLevel) bool {
	wds, ok := fl.Field().Interface().([]Weekday)
	if !ok {
		return false
	}
	for _, wd := range wds {
		if !wd.Valid() {
			return false
		}
	}
	return true
}
