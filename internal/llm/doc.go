// Package llm provides the language-model classifier source. It supports Anthropic, OpenAI
// and Gemini transports, with retry logic, rate limiting, and response caching layered on top.
package llm
