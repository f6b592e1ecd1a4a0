// Package suggest proposes tags for a site from a static keyword table.
package suggest

import "strings"

// Suggestion is a proposed tag with a default color.
type Suggestion struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type rule struct {
	keywords []string
	tag      Suggestion
}

// Matching is substring-based over the lowercased name, URL and description.
// Order matters only for output stability, not priority.
var rules = []rule{
	{[]string{"design", "figma", "sketch", "dribbble", "behance"}, Suggestion{"design", "#e879f9"}},
	{[]string{"github", "gitlab", "bitbucket", "git"}, Suggestion{"development", "#60a5fa"}},
	{[]string{"api", "rest", "graphql", "swagger", "postman"}, Suggestion{"api", "#34d399"}},
	{[]string{"ai", "gpt", "ml", "machine learning", "neural"}, Suggestion{"ai", "#a78bfa"}},
	{[]string{"docs", "documentation", "wiki", "manual"}, Suggestion{"docs", "#fbbf24"}},
	{[]string{"news", "blog", "article", "medium.com", "substack"}, Suggestion{"reading", "#f87171"}},
	{[]string{"video", "youtube", "vimeo", "stream"}, Suggestion{"video", "#fb923c"}},
	{[]string{"learn", "course", "tutorial", "udemy", "coursera"}, Suggestion{"learning", "#4ade80"}},
	{[]string{"shop", "store", "buy", "amazon", "ebay"}, Suggestion{"shopping", "#f472b6"}},
	{[]string{"music", "spotify", "soundcloud", "audio"}, Suggestion{"music", "#22d3ee"}},
	{[]string{"photo", "image", "unsplash", "pexels", "icon"}, Suggestion{"images", "#c084fc"}},
	{[]string{"cloud", "aws", "azure", "gcp", "hosting", "deploy"}, Suggestion{"infrastructure", "#94a3b8"}},
	{[]string{"social", "twitter", "facebook", "linkedin", "reddit"}, Suggestion{"social", "#38bdf8"}},
	{[]string{"finance", "bank", "crypto", "invest", "stock"}, Suggestion{"finance", "#facc15"}},
	{[]string{"productivity", "todo", "notion", "calendar", "task"}, Suggestion{"productivity", "#2dd4bf"}},
	{[]string{"game", "gaming", "steam", "itch.io"}, Suggestion{"games", "#fb7185"}},
}

// ForSite returns tag suggestions for the given site fields, at most max
// entries (max <= 0 means unlimited). Duplicate tags are collapsed.
func ForSite(name, url, description string, max int) []Suggestion {
	haystack := strings.ToLower(name + " " + url + " " + description)

	var out []Suggestion
	seen := make(map[string]bool)
	for _, r := range rules {
		if seen[r.tag.Name] {
			continue
		}
		for _, kw := range r.keywords {
			if strings.Contains(haystack, kw) {
				out = append(out, r.tag)
				seen[r.tag.Name] = true
				break
			}
		}
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
