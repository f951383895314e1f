package billing

// Cost converts a billable word count into tokens at wordsPerToken words per
// token, rounding half up: 5 words at 2 words/token cost 3 tokens.
//
// Zero words cost nothing. A non-positive wordsPerToken also yields zero;
// role validation rejects such rates before a session opens.
func Cost(wordCount, wordsPerToken int) int64 {
	if wordCount <= 0 || wordsPerToken <= 0 {
		return 0
	}
	w := int64(wordCount)
	d := int64(wordsPerToken)
	return (2*w + d) / (2 * d)
}

// MessageCost counts the words in text and prices them.
func MessageCost(text string, wordsPerToken int) (words int, cost int64) {
	words = CountWords(text)
	return words, Cost(words, wordsPerToken)
}
