package proxy

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imghub/internal/imaging"
)

// errMissingURL 表示请求未携带 url，调用方应返回帮助页。
var errMissingURL = errors.New("url parameter missing")

// InvalidParameterError 表示查询参数无法解析或越界，整次请求以 400 拒绝。
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// imageQuery 是查询参数的校验视图，query 标签用于错误回显。
type imageQuery struct {
	URL    string `query:"url" validate:"required,http_url"`
	Width  *int   `query:"w" validate:"omitnil,gt=0,maxdim"`
	Height *int   `query:"h" validate:"omitnil,gt=0,maxdim"`
	Format string `query:"format" validate:"omitempty,oneof=jpeg jpg png"`
}

// imageRequest 是通过校验后的请求语义。
type imageRequest struct {
	URL    string
	Dims   imaging.Dimensions
	Format imaging.Format
}

func (r imageRequest) resized() bool {
	return !r.Dims.IsZero()
}

type paramParser struct {
	validate     *validator.Validate
	maxDimension int
}

func newParamParser(maxDimension int) *paramParser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("query")
	})
	// maxdim 的上限来自配置，因此以闭包注册。
	_ = v.RegisterValidation("maxdim", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(maxDimension)
	})
	return &paramParser{validate: v, maxDimension: maxDimension}
}

func (p *paramParser) parse(c fiber.Ctx) (imageRequest, error) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return imageRequest{}, errMissingURL
	}

	q := imageQuery{
		URL:    rawURL,
		Format: strings.ToLower(strings.TrimSpace(c.Query("format"))),
	}
	var err error
	if q.Width, err = parseDimension("w", c.Query("w")); err != nil {
		return imageRequest{}, err
	}
	if q.Height, err = parseDimension("h", c.Query("h")); err != nil {
		return imageRequest{}, err
	}

	if err := p.validate.Struct(q); err != nil {
		return imageRequest{}, p.translate(err)
	}

	format, _ := imaging.ParseFormat(q.Format)
	req := imageRequest{URL: q.URL, Format: format}
	if q.Width != nil {
		req.Dims.Width = *q.Width
	}
	if q.Height != nil {
		req.Dims.Height = *q.Height
	}
	return req, nil
}

func parseDimension(field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &InvalidParameterError{Field: field, Reason: "must be an integer"}
	}
	return &n, nil
}

func (p *paramParser) translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &InvalidParameterError{Field: "query", Reason: err.Error()}
	}
	fe := verrs[0]
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "http_url":
		reason = "must be an absolute http(s) url"
	case "gt":
		reason = "must be greater than 0"
	case "maxdim":
		reason = fmt.Sprintf("must not exceed %d", p.maxDimension)
	case "oneof":
		reason = "must be one of jpeg, jpg, png"
	}
	return &InvalidParameterError{Field: fe.Field(), Reason: reason}
}
