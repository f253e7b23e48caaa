package api

import (
	"errors"
	"strings"

	auth "github.com/ecofy/ecofy-auth"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse numbers written without a country code.
const DefaultPhoneRegion = "UA"

// LoginRequest payload
type LoginRequest struct {
	Kind     string `json:"kind"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind, validation.Required, validation.In(kindValues()...)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegisterUserRequest payload
type RegisterUserRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Patronymic      string `json:"patronymic"`
	City            string `json:"city"`
	Email           string `json:"email"`
	Phone           string `json:"phone_number"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r RegisterUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Patronymic, validation.Length(0, 200)),
		validation.Field(&r.City, validation.Length(0, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhone)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// Message converts the request into the registration message.
func (r RegisterUserRequest) Message() auth.RegisterUserMessage {
	return auth.RegisterUserMessage{
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Patronymic: r.Patronymic,
		City:       r.City,
		Email:      r.Email,
		Phone:      NormalizePhone(r.Phone),
		Password:   r.Password,
	}
}

// CompanyRequest is the payload shared by client company and organization registration.
type CompanyRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	EDRPOU          string `json:"edrpou"`
	City            string `json:"city"`
	Street          string `json:"street"`
	Building        string `json:"building"`
	Email           string `json:"email"`
	Phone           string `json:"phone_number"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r CompanyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.Length(0, 100)),
		// EDRPOU is the 8 digit Ukrainian state registry code.
		validation.Field(&r.EDRPOU, validation.Length(8, 8), is.Digit),
		validation.Field(&r.City, validation.Length(0, 100)),
		validation.Field(&r.Street, validation.Length(0, 200)),
		validation.Field(&r.Building, validation.Length(0, 20)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhone)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ClientCompanyMessage converts the request into a client company registration.
func (r CompanyRequest) ClientCompanyMessage() auth.RegisterClientCompanyMessage {
	return auth.RegisterClientCompanyMessage{
		Name:     r.Name,
		Type:     r.Type,
		EDRPOU:   r.EDRPOU,
		City:     r.City,
		Street:   r.Street,
		Building: r.Building,
		Email:    r.Email,
		Phone:    NormalizePhone(r.Phone),
		Password: r.Password,
	}
}

// OrganizationMessage converts the request into an organization registration.
func (r CompanyRequest) OrganizationMessage() auth.RegisterOrganizationMessage {
	return auth.RegisterOrganizationMessage{
		Name:     r.Name,
		EDRPOU:   r.EDRPOU,
		City:     r.City,
		Street:   r.Street,
		Building: r.Building,
		Email:    r.Email,
		Phone:    NormalizePhone(r.Phone),
		Password: r.Password,
	}
}

// UpdateUserRequest payload. Empty fields are left unchanged.
type UpdateUserRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Patronymic string `json:"patronymic"`
	City       string `json:"city"`
	Phone      string `json:"phone_number"`
}

// Validate will run validation rules
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Length(1, 200)),
		validation.Field(&r.Patronymic, validation.Length(1, 200)),
		validation.Field(&r.City, validation.Length(1, 100)),
		validation.Field(&r.Phone, validation.By(ValidatePhone)),
	)
}

// Apply copies the non empty fields onto user and returns the changed columns.
func (r UpdateUserRequest) Apply(user *auth.User) []string {
	var columns []string
	set := func(dst *string, value, column string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
			columns = append(columns, column)
		}
	}
	set(&user.FirstName, r.FirstName, "first_name")
	set(&user.LastName, r.LastName, "last_name")
	set(&user.Patronymic, r.Patronymic, "patronymic")
	set(&user.City, r.City, "city")
	set(&user.PhoneNumber, NormalizePhone(r.Phone), "phone_number")
	return columns
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// StatusRequest payload
type StatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Validate will run validation rules
func (r StatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Status,
			validation.Required,
			validation.In(
				string(auth.StatusPending),
				string(auth.StatusActive),
				string(auth.StatusSuspended),
				string(auth.StatusDeleted),
			),
		),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

// RoleRequest payload
type RoleRequest struct {
	Role string `json:"role"`
}

// Validate will run validation rules
func (r RoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Role,
			validation.Required,
			validation.In(
				string(auth.RoleUser),
				string(auth.RoleAdmin),
				string(auth.RoleOrganization),
				string(auth.RoleClientCompany),
			),
		),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidatePhone accepts empty values and numbers phonenumbers considers valid.
func ValidatePhone(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// NormalizePhone formats a phone number as E.164. Unparseable input is
// returned trimmed.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	num, err := phonenumbers.Parse(s, DefaultPhoneRegion)
	if err != nil {
		return s
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// validationError converts ozzo validation errors into a go-errors validation error.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid request").
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": fields})
}

func kindValues() []any {
	kinds := auth.AllKinds()
	out := make([]any, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
