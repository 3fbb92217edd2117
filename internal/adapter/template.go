package adapter

import (
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/nexnum/provider-core/internal/store"
)

// bindTemplate substitutes {placeholder} tokens in tpl from inputs
// only; vendor is not consulted. A placeholder absent from inputs is
// an error, which execList reports as BAD_REQUEST before any call is
// made.
func bindTemplate(tpl string, inputs map[string]string, vendor store.Vendor) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(tpl) {
		open := strings.IndexByte(tpl[i:], '{')
		if open == -1 {
			b.WriteString(tpl[i:])
			break
		}
		b.WriteString(tpl[i : i+open])
		start := i + open + 1
		end := strings.IndexByte(tpl[start:], '}')
		if end == -1 {
			return "", fmt.Errorf("unterminated placeholder in template %q", tpl)
		}
		name := tpl[start : start+end]
		val, ok := inputs[name]
		if !ok {
			return "", fmt.Errorf("missing required placeholder %q", name)
		}
		b.WriteString(val)
		i = start + end + 1
	}
	return b.String(), nil
}

// applyAuth attaches the vendor's credential to the outgoing request
// per the declared AuthRecipe.
func applyAuth(req *resty.Request, auth store.AuthRecipe) {
	switch auth.Kind {
	case "bearer":
		req.SetAuthToken(auth.Value)
	case "header":
		req.SetHeader(auth.HeaderName, auth.Value)
	case "query":
		req.SetQueryParam(auth.Key, auth.Value)
	}
}
