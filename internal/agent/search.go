package agent

// search 通过论文检索工具查找论文。
type search struct {
	agentic
}

func (s *search) CreatePrompt(in PromptInput) string {
	var b promptBuilder
	b.add("Search for useful research papers based on the user query.")
	b.add("User Query: " + in.Query)
	return withLocale(b.String(), in.Query)
}
