package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

var (
	validate     *validator.Validate
	translator   ut.Translator
	validateOnce sync.Once
)

// rule 自定义校验规则及其中文提示
type rule struct {
	fn  validator.Func
	msg string
}

var rules = map[string]rule{
	// platform 仅允许 ios / android
	"platform": {fn: func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "ios", "android":
			return true
		}
		return false
	}, msg: "必须是 ios 或 android"},
	// relid 发布ID为 rel_ 前缀加 uuid
	"relid": {fn: func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return strings.HasPrefix(id, "rel_") && len(id) > len("rel_")
	}, msg: "不是有效的发布ID"},
}

// 覆盖默认翻译，带参数的规则沿用默认模板
var overrides = map[string]string{
	"required": "不能为空",
	"email":    "必须是有效的电子邮件地址",
}

// fieldName 错误信息中的字段名：优先 comment 标签，其次 json 名
func fieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("comment"), ",", 2)[0]
	if name == "" {
		name = strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	}
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New()
	v.RegisterTagNameFunc(fieldName)

	zhTrans := zh.New()
	trans, _ := ut.New(zhTrans, zhTrans).GetTranslator("zh")
	_ = zh_translations.RegisterDefaultTranslations(v, trans)

	for tag, msg := range overrides {
		translate(v, trans, tag, msg)
	}
	for tag, r := range rules {
		_ = v.RegisterValidation(tag, r.fn)
		translate(v, trans, tag, r.msg)
	}
	return v, trans
}

func translate(v *validator.Validate, trans ut.Translator, tag, msg string) {
	_ = v.RegisterTranslation(tag, trans, func(t ut.Translator) error {
		return t.Add(tag, msg, true)
	}, func(t ut.Translator, fe validator.FieldError) string {
		return fe.Field() + msg
	})
}

// Validate 校验结构体，返回拼接后的中文错误信息
func Validate(data interface{}) (string, error) {
	validateOnce.Do(func() {
		validate, translator = newValidator()
	})

	err := validate.Struct(data)
	if err == nil {
		return "", nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error(), err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Translate(translator))
	}
	return strings.Join(msgs, "; "), err
}
