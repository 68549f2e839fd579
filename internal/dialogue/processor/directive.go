package processor

// NextAction tells the telephony platform what to do after the spoken part of
// a directive has played.
type NextAction string

const (
	// NextActionRecord re-opens recording for the counterpart's next utterance.
	NextActionRecord NextAction = "record"
	// NextActionEnd terminates the call.
	NextActionEnd NextAction = "end"
)

// Directive is the controller's decision for one webhook: what to speak or
// play, and whether the call continues. When AudioURL is set the platform
// plays the pre-rendered asset; otherwise SpeakText is spoken with the
// platform's native synthesis.
type Directive struct {
	SpeakText string
	AudioURL  string
	Next      NextAction
}
