package connection

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"strdash/session"
)

// PrimaryParams are the Oracle connection fields.
type PrimaryParams struct {
	Host        string `form:"host" label:"Host" validate:"required"`
	Port        string `form:"port" label:"Port" validate:"required"`
	ServiceName string `form:"service_name" label:"Service name" validate:"required"`
	Username    string `form:"username" label:"Username" validate:"required"`
	Password    string `form:"password" label:"Password"`
}

// AnalyticsParams are the Redshift connection fields.
type AnalyticsParams struct {
	Host     string `form:"host" label:"Host" validate:"required"`
	Port     string `form:"port" label:"Port" validate:"required"`
	DBName   string `form:"dbname" label:"Database" validate:"required"`
	Username string `form:"username" label:"Username" validate:"required"`
	Password string `form:"password" label:"Password"`
}

// ConnectAllParams carries both sources for a single connect-all request.
type ConnectAllParams struct {
	Primary   PrimaryParams
	Analytics AnalyticsParams
}

// FieldError names the first required field left empty.
type FieldError struct {
	Source session.Source
	Field  string
	Label  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s is required", e.Source.Label(), strings.ToLower(e.Label))
}

// WithDefaults fills empty fields from d. The password is never defaulted.
func (p PrimaryParams) WithDefaults(d PrimaryParams) PrimaryParams {
	p.Host = orDefault(p.Host, d.Host)
	p.Port = orDefault(p.Port, d.Port)
	p.ServiceName = orDefault(p.ServiceName, d.ServiceName)
	p.Username = orDefault(p.Username, d.Username)
	return p
}

// WithDefaults fills empty fields from d. The password is never defaulted.
func (p AnalyticsParams) WithDefaults(d AnalyticsParams) AnalyticsParams {
	p.Host = orDefault(p.Host, d.Host)
	p.Port = orDefault(p.Port, d.Port)
	p.DBName = orDefault(p.DBName, d.DBName)
	p.Username = orDefault(p.Username, d.Username)
	return p
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Form encodes the params as request fields, each name prefixed with prefix.
func (p PrimaryParams) Form(prefix string) map[string]string {
	return encodeForm(p, prefix)
}

// Form encodes the params as request fields, each name prefixed with prefix.
func (p AnalyticsParams) Form(prefix string) map[string]string {
	return encodeForm(p, prefix)
}

func encodeForm(params any, prefix string) map[string]string {
	v := reflect.ValueOf(params)
	t := v.Type()
	form := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("form")
		if name == "" {
			continue
		}
		form[prefix+name] = strings.TrimSpace(v.Field(i).String())
	}
	return form
}

// PrimaryFromForm reads Oracle params from fields named prefix+field.
func PrimaryFromForm(values url.Values, prefix string) PrimaryParams {
	var p PrimaryParams
	decodeForm(&p, values, prefix)
	return p
}

// AnalyticsFromForm reads Redshift params from fields named prefix+field.
func AnalyticsFromForm(values url.Values, prefix string) AnalyticsParams {
	var p AnalyticsParams
	decodeForm(&p, values, prefix)
	return p
}

// ConnectAllFromForm reads both sources using the oracle_ and redshift_
// field prefixes of the connect-all form.
func ConnectAllFromForm(values url.Values) ConnectAllParams {
	return ConnectAllParams{
		Primary:   PrimaryFromForm(values, primaryPrefix),
		Analytics: AnalyticsFromForm(values, analyticsPrefix),
	}
}

func decodeForm(dst any, values url.Values, prefix string) {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("form")
		if name == "" {
			continue
		}
		v.Field(i).SetString(strings.TrimSpace(values.Get(prefix + name)))
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	return validate
}

// validateParams returns a *FieldError for the first empty required field.
// Whitespace-only values count as empty.
func validateParams(validate *validator.Validate, source session.Source, params any) error {
	trimmed := trimStrings(params)
	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate %s parameters: %w", source, err)
	}

	first := verrs[0]
	label := first.Field()
	if f, ok := reflect.TypeOf(trimmed).FieldByName(first.StructField()); ok {
		if l := f.Tag.Get("label"); l != "" {
			label = l
		}
	}
	return &FieldError{Source: source, Field: first.Field(), Label: label}
}

func trimStrings(params any) any {
	v := reflect.ValueOf(params)
	out := reflect.New(v.Type()).Elem()
	out.Set(v)
	for i := 0; i < out.NumField(); i++ {
		if f := out.Field(i); f.Kind() == reflect.String {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
	return out.Interface()
}
