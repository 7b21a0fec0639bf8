package integrations

import (
	"errors"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateBookmark checks that a bookmark carries a URL with a scheme.
func validateBookmark(b BookmarkData) error {
	if err := validate.Struct(b); err != nil {
		return validationErrorf("bookmark: %s", describeValidation(err))
	}
	u, err := url.Parse(strings.TrimSpace(b.URL))
	if err != nil || u.Scheme == "" {
		return validationErrorf("bookmark url %q is not a valid URL", b.URL)
	}
	return nil
}

func validateWebhook(w ZapierWebhook) error {
	if err := validate.Struct(w); err != nil {
		return validationErrorf("webhook: %s", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
			continue
		}
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
