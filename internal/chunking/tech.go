package chunking

import (
	"regexp"
	"strings"
)

// techTerms maps detection patterns to canonical technology names.
var techTerms = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)\bgolang\b|\bgo\s+(?:services?|microservices?|backend|programming|modules?)\b|\b(?:in|using|with)\s+go\b|\bgo\s*[,/]`), "go"},
	{regexp.MustCompile(`(?i)\bpython\b`), "python"},
	{regexp.MustCompile(`(?i)\btypescript\b`), "typescript"},
	{regexp.MustCompile(`(?i)\bjavascript\b`), "javascript"},
	{regexp.MustCompile(`(?i)\bjava\b`), "java"},
	{regexp.MustCompile(`(?i)\brust\b`), "rust"},
	{regexp.MustCompile(`(?i)\bruby(?:\s+on\s+rails)?\b`), "ruby"},
	{regexp.MustCompile(`(?i)\bc\+\+`), "c++"},
	{regexp.MustCompile(`(?i)\bc#`), "c#"},
	{regexp.MustCompile(`(?i)\bkotlin\b`), "kotlin"},
	{regexp.MustCompile(`(?i)\bswift\b`), "swift"},
	{regexp.MustCompile(`(?i)\breact(?:\.js)?\b`), "react"},
	{regexp.MustCompile(`(?i)\bnext\.?js\b`), "next.js"},
	{regexp.MustCompile(`(?i)\bvue(?:\.js)?\b`), "vue"},
	{regexp.MustCompile(`(?i)\bnode(?:\.js)?\b`), "node.js"},
	{regexp.MustCompile(`(?i)\bdjango\b`), "django"},
	{regexp.MustCompile(`(?i)\bflask\b`), "flask"},
	{regexp.MustCompile(`(?i)\bpostgres(?:ql)?\b`), "postgresql"},
	{regexp.MustCompile(`(?i)\bmysql\b`), "mysql"},
	{regexp.MustCompile(`(?i)\bmongo(?:db)?\b`), "mongodb"},
	{regexp.MustCompile(`(?i)\bredis\b`), "redis"},
	{regexp.MustCompile(`(?i)\belasticsearch\b`), "elasticsearch"},
	{regexp.MustCompile(`(?i)\bkafka\b`), "kafka"},
	{regexp.MustCompile(`(?i)\brabbitmq\b`), "rabbitmq"},
	{regexp.MustCompile(`(?i)\bgraphql\b`), "graphql"},
	{regexp.MustCompile(`(?i)\bgrpc\b`), "grpc"},
	{regexp.MustCompile(`(?i)\bdocker\b`), "docker"},
	{regexp.MustCompile(`(?i)\bkubernetes\b|\bk8s\b`), "kubernetes"},
	{regexp.MustCompile(`(?i)\bterraform\b`), "terraform"},
	{regexp.MustCompile(`(?i)\baws\b|\bamazon web services\b`), "aws"},
	{regexp.MustCompile(`(?i)\bgcp\b|\bgoogle cloud\b`), "gcp"},
	{regexp.MustCompile(`(?i)\bazure\b`), "azure"},
	{regexp.MustCompile(`(?i)\bsupabase\b`), "supabase"},
	{regexp.MustCompile(`(?i)\bpgvector\b`), "pgvector"},
	{regexp.MustCompile(`(?i)\bopenai\b`), "openai"},
	{regexp.MustCompile(`(?i)\bllms?\b|\blarge language models?\b`), "llm"},
	{regexp.MustCompile(`(?i)\bpytorch\b`), "pytorch"},
	{regexp.MustCompile(`(?i)\btensorflow\b`), "tensorflow"},
	{regexp.MustCompile(`(?i)\bsql\b`), "sql"},
	{regexp.MustCompile(`(?i)\bgit(?:hub)?\b`), "git"},
}

var techStackLineRe = regexp.MustCompile(`(?i)^\s*[-*]?\s*\**\s*(tech(?:nology)?\s*stack|technologies|built\s+with|tools|stack)\s*\**\s*:\**\s*(.+)$`)

// DetectTechnologies returns canonical names of known technologies in text.
func DetectTechnologies(text string) []string {
	var out []string
	for _, t := range techTerms {
		if t.re.MatchString(text) {
			out = append(out, t.name)
		}
	}
	return out
}

// techStack prefers an explicit "Tech stack:" line and falls back to
// detection.
func techStack(text string) []string {
	for _, line := range splitLines(text) {
		m := techStackLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		items := strings.FieldsFunc(m[2], func(r rune) bool {
			return r == ',' || r == ';' || r == '/' || r == '|'
		})
		var out []string
		for _, it := range items {
			it = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(it), "and "))
			it = strings.Trim(it, "*_`.")
			if it != "" {
				out = append(out, strings.ToLower(it))
			}
		}
		if len(out) > 0 {
			return dedupeStrings(out)
		}
	}
	return DetectTechnologies(text)
}
