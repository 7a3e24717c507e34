package payload

import (
	"net/url"
	"regexp"
	"strings"
)

var repositoryTreeLinkPattern = regexp.MustCompile(`https://[^\s"'<>()\[\]]+/tree/[^\s"'<>()\[\]]+`)

// RewriteRepositoryLinks converts tree-view repository URLs embedded in
// repro steps into blob-view URLs, translating line selection query
// parameters into line-number fragments so the link lands on the code.
func RewriteRepositoryLinks(content string) string {
	if !strings.Contains(content, "/tree/") {
		return content
	}

	return repositoryTreeLinkPattern.ReplaceAllStringFunc(content, rewriteTreeLink)
}

func rewriteTreeLink(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}

	parsed.Path = strings.Replace(parsed.Path, "/tree/", "/blob/", 1)

	query := parsed.Query()
	line := strings.TrimSpace(query.Get("line"))
	lineEnd := strings.TrimSpace(query.Get("lineEnd"))
	query.Del("line")
	query.Del("lineEnd")
	parsed.RawQuery = query.Encode()

	if line != "" {
		fragment := "L" + line
		if lineEnd != "" && lineEnd != line {
			fragment += "-L" + lineEnd
		}
		parsed.Fragment = fragment
	}

	return parsed.String()
}
