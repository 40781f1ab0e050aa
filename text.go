package vybe

// Fallback texts used when an agent output cannot be read.
const (
	FallbackTitle    = "Fragment"
	FallbackResponse = "I'm sorry, I couldn't generate a response."
)

// ExtractText returns the text of the first output message, or fallback when
// there is none or it is not a text message. Text parts are concatenated in
// order; otherwise the plain content is used.
func ExtractText(output []ChatMessage, fallback string) string {
	if len(output) == 0 {
		return fallback
	}
	m := output[0]
	if m.Type != MessageText {
		return fallback
	}
	return m.Text()
}
