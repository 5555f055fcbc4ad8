package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile("{(.*?)}")

// Substitute resolves {$.path} tokens in s against the request
// attributes, so approver roles and ids in a definition can reference
// request data, e.g. "manager-{$.department}".
func Substitute(s string, attributes map[string]any) string {
	tokens := tokenRe.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	tokenMap := make(map[string]any)
	for i := range tokens {
		token := tokens[i]
		tmatch := strings.ReplaceAll(token, "{", "")
		tmatch = strings.ReplaceAll(tmatch, "}", "")
		if strings.HasPrefix(tmatch, "$") {
			value, _ := jsonpath.JsonPathLookup(attributes, tmatch)
			tokenMap[token] = value
		}
	}
	newStr := s
	for t, tv := range tokenMap {
		newStr = strings.ReplaceAll(newStr, t, fmt.Sprintf("%v", tv))
	}
	return newStr
}
