package compose

// Suggestion pools are static per-topic prompt sets. The conversation's
// shown-suggestion set dedupes across turns; when a pool is exhausted the
// set is reset so long conversations keep receiving prompts.

var genericPool = []string{
	"What outcome would feel like a win for you?",
	"Would it help to walk through what happened step by step?",
	"Have you gathered any documents related to this?",
	"Is there a deadline you are worried about?",
	"Who else is affected by this situation?",
}

var topicPools = map[string][]string{
	"divorce": {
		"Do you and your spouse agree on how to divide things?",
		"Have you thought about mediation versus going to court?",
		"Are there children whose arrangements need to be settled?",
		"Do you know what records of shared finances you have access to?",
	},
	"custody": {
		"What schedule would work best for the children?",
		"How is the current arrangement working day to day?",
		"Have there been any changes in circumstances recently?",
		"Is the other parent open to discussing changes?",
	},
	"tenancy": {
		"Have you notified your landlord in writing?",
		"Do you have photos or records of the issue?",
		"What does your lease say about this situation?",
		"Have you checked your local tenant protection rules?",
	},
	"employment": {
		"Did you keep copies of any relevant emails or reviews?",
		"Were there witnesses to what happened?",
		"Have you filed anything with HR yet?",
		"Do you know your company's complaint process?",
	},
	"immigration": {
		"Do you have copies of all your filings so far?",
		"Are there any deadlines coming up on your case?",
		"Has anything changed in your circumstances since you filed?",
		"Do you have family members whose status depends on yours?",
	},
	"estate": {
		"Do you know whether a will or trust exists?",
		"Have you located the important account documents?",
		"Who are the people with a stake in the estate?",
		"Has anyone been named as executor?",
	},
}

// poolFor returns the suggestion pool for a topic, falling back to the
// generic pool.
func poolFor(topic string) []string {
	if pool, ok := topicPools[topic]; ok {
		return pool
	}
	return genericPool
}
