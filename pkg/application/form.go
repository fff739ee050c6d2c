// Package application validates a member's loan application form and turns
// it into loan terms.
package application

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/ledger"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

const (
	PurposeBusiness  = "Modal Usaha"
	PurposeEducation = "Pendidikan"
	PurposeUrgent    = "Kebutuhan Mendesak"
	PurposeOther     = "Lainnya"
)

// Indonesian mobile numbers: 08 followed by 8 to 11 digits.
var phonePattern = regexp.MustCompile(`^08\d{8,11}$`)

type Form struct {
	MemberID       string          `json:"member_id"`
	Amount         decimal.Decimal `json:"amount"`
	TermMonths     int             `json:"term_months"`
	StartDate      string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Phone          string          `json:"phone" validate:"required,phone_id"`
	Address        string          `json:"address" validate:"required,min=10"`
	Purpose        string          `json:"purpose" validate:"required,oneof='Modal Usaha' Pendidikan 'Kebutuhan Mendesak' Lainnya"`
	PurposeDetails string          `json:"purpose_details" validate:"required_if=Purpose Lainnya"`
	Agreement      bool            `json:"agreement" validate:"required"`
}

type Validator struct {
	validate *validator.Validate
	policy   ledger.Policy
}

func NewValidator(policy ledger.Policy) *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterValidation("phone_id", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: validate, policy: policy}
}

// Validate checks every field of f and reports all failures at once as an
// *apperr.ValidationError. On success it returns the loan terms at the
// policy rate.
func (v *Validator) Validate(f Form) (models.LoanTerms, error) {
	f.Phone = strings.TrimSpace(f.Phone)
	f.Address = strings.TrimSpace(f.Address)
	f.PurposeDetails = strings.TrimSpace(f.PurposeDetails)
	f.MemberID = strings.TrimSpace(f.MemberID)

	verr := apperr.NewValidationError()
	v.policy.CheckTerms(verr, f.Amount, f.TermMonths)

	if err := v.validate.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return models.LoanTerms{}, fmt.Errorf("validate application: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), message(fe))
		}
	}
	if err := verr.OrNil(); err != nil {
		return models.LoanTerms{}, err
	}

	var start time.Time
	if f.StartDate != "" {
		// Format already checked by the datetime tag.
		start, _ = time.ParseInLocation(dateLayout, f.StartDate, time.UTC)
	}

	purpose := f.Purpose
	if f.Purpose == PurposeOther {
		purpose = fmt.Sprintf("%s: %s", PurposeOther, f.PurposeDetails)
	}

	return models.LoanTerms{
		MemberID:    f.MemberID,
		Amount:      f.Amount,
		MonthlyRate: v.policy.MonthlyRate(),
		TermMonths:  f.TermMonths,
		StartDate:   start,
		Purpose:     purpose,
	}, nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "agreement" {
			return "terms and conditions must be accepted"
		}
		return "is required"
	case "required_if":
		return "is required when purpose is " + PurposeOther
	case "phone_id":
		return "must start with 08 and have 10 to 13 digits"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s, %s, %s, %s", PurposeBusiness, PurposeEducation, PurposeUrgent, PurposeOther)
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
