package intake

// Outcome is how the pipeline finished for one delivery. Only OutcomeMalformed
// is surfaced to the transport as a failure.
type Outcome string

const (
	OutcomeMalformed  Outcome = "malformed"
	OutcomeHandshake  Outcome = "handshake"
	OutcomeNoEvent    Outcome = "no_event"
	OutcomeDeduped    Outcome = "deduped"
	OutcomeIneligible Outcome = "ineligible"
	OutcomeNoURL      Outcome = "no_url"
	OutcomeQueued     Outcome = "queued"
	OutcomeProcessed  Outcome = "processed"
	OutcomeFailed     Outcome = "failed"
)
