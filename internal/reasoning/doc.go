// Package reasoning implements the orchestrator's Reasoner over a
// langchaingo llms.Model.
//
// Each operation renders a prompt, asks the model for a single JSON object
// and decodes it into the plan, replan, validation or reflection types the
// orchestrator consumes. Completions may wrap the object in a markdown code
// fence or surround it with prose; the first balanced object is used.
//
// Calls are rate limited and retried with exponential backoff when the
// failure is transient (transport errors, 429 and 5xx responses). A
// completion that cannot be decoded is retried once with the decode error
// appended to the prompt.
package reasoning
