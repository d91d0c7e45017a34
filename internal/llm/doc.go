// Package llm provides the structured-completion capability used to choose among
// rules that only a language model can judge. It supports OpenAI and Anthropic,
// with retry logic, rate limiting and per-user provider overrides.
package llm
